// Package snapshot serializes world state for the wire: full snapshots that
// replace a replica wholesale, and per-client deltas computed against the
// tick that client last acknowledged.
package snapshot

import (
	"riftline/server/internal/collision"
	"riftline/server/internal/geom"
	"riftline/server/internal/journal"
	"riftline/server/internal/world"
)

// EntityState is one entity on the wire. Mask says which component values are
// present; absent components are untouched when the state is merged into a
// replica.
type EntityState struct {
	ID          world.EntityID      `json:"id"`
	Kind        world.EntityKind    `json:"kind"`
	Mask        world.ComponentMask `json:"mask"`
	Pos         *geom.Vec2          `json:"pos,omitempty"`
	Vel         *geom.Vec2          `json:"vel,omitempty"`
	Orientation *float64            `json:"orientation,omitempty"`
	Shape       *collision.Shape    `json:"shape,omitempty"`
	Health      *world.Health       `json:"health,omitempty"`
	Color       *world.Color        `json:"color,omitempty"`
}

// Snapshot is a serialized view of the world at one tick. Baseline is only
// meaningful when Full is false.
type Snapshot struct {
	Tick     world.Tick       `json:"tick"`
	Full     bool             `json:"full"`
	Baseline world.Tick       `json:"baseline,omitempty"`
	Removed  []world.EntityID `json:"removed,omitempty"`
	Entities []EntityState    `json:"entities,omitempty"`
}

// Encode captures the masked components of an entity into wire form.
func Encode(e *world.Entity, mask world.ComponentMask) EntityState {
	mask &= e.Mask
	es := EntityState{ID: e.ID, Kind: e.Kind, Mask: mask}
	if mask.Has(world.CompPosition) {
		pos := e.Pos
		es.Pos = &pos
	}
	if mask.Has(world.CompVelocity) {
		vel := e.Vel
		es.Vel = &vel
	}
	if mask.Has(world.CompOrientation) {
		angle := e.Orientation
		es.Orientation = &angle
	}
	if mask.Has(world.CompShape) {
		shape := e.Shape
		es.Shape = &shape
	}
	if mask.Has(world.CompHealth) {
		health := e.Health
		es.Health = &health
	}
	if mask.Has(world.CompColor) {
		color := e.Color
		es.Color = &color
	}
	return es
}

// Decode expands wire form back into an entity. Components outside the mask
// are left at their zero values.
func Decode(es EntityState) world.Entity {
	e := world.Entity{ID: es.ID, Kind: es.Kind, Mask: es.Mask}
	if es.Pos != nil {
		e.Pos = *es.Pos
	}
	if es.Vel != nil {
		e.Vel = *es.Vel
	}
	if es.Orientation != nil {
		e.Orientation = *es.Orientation
	}
	if es.Shape != nil {
		e.Shape = *es.Shape
	}
	if es.Health != nil {
		e.Health = *es.Health
	}
	if es.Color != nil {
		e.Color = *es.Color
	}
	return e
}

// BuildFull encodes every live entity with its complete component set.
func BuildFull(w *world.World) Snapshot {
	snap := Snapshot{Tick: w.Tick(), Full: true}
	w.ForEach(func(e *world.Entity) {
		snap.Entities = append(snap.Entities, Encode(e, e.Mask))
	})
	return snap
}

// Build produces the delta snapshot for one client baseline, falling back to
// a full snapshot when the baseline is unknown or has aged out of the
// journal. Entities created since the baseline are always fully encoded.
func Build(w *world.World, j *journal.Journal, baseline world.Tick, hasBaseline bool) Snapshot {
	if !hasBaseline {
		return BuildFull(w)
	}
	diff, ok := j.DiffSince(baseline)
	if !ok {
		return BuildFull(w)
	}
	snap := Snapshot{
		Tick:     w.Tick(),
		Baseline: baseline,
		Removed:  diff.Removed,
	}
	for _, id := range diff.Created {
		if e, live := w.Get(id); live {
			snap.Entities = append(snap.Entities, Encode(e, e.Mask))
		}
	}
	for _, id := range sortedKeys(diff.Dirty) {
		if e, live := w.Get(id); live {
			snap.Entities = append(snap.Entities, Encode(e, diff.Dirty[id]))
		}
	}
	return snap
}

func sortedKeys(m map[world.EntityID]world.ComponentMask) []world.EntityID {
	if len(m) == 0 {
		return nil
	}
	ids := make([]world.EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for k := i; k > 0 && ids[k] < ids[k-1]; k-- {
			ids[k], ids[k-1] = ids[k-1], ids[k]
		}
	}
	return ids
}
