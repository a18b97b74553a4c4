package snapshot

import (
	"errors"
	"fmt"

	"riftline/server/internal/world"
)

// ErrUnknownBaseline signals that a delta references a baseline tick the
// client never applied. The packet is dropped without mutating the replica
// and the caller should request a full resync.
var ErrUnknownBaseline = errors.New("snapshot: delta references a baseline the client never applied")

const appliedHistoryLimit = 64

// Applier merges incoming snapshots into a client replica and remembers
// which ticks it has applied so delta baselines can be validated.
type Applier struct {
	applied []world.Tick
}

// NewApplier returns an applier with no history; the first snapshot it
// accepts must be full.
func NewApplier() *Applier {
	return &Applier{}
}

// Apply merges a snapshot into the replica. Full snapshots replace the
// replica wholesale; deltas apply removals, then create or merge the listed
// entities. Components a delta does not mention are left unchanged.
func (a *Applier) Apply(replica *world.World, snap Snapshot) error {
	if snap.Full {
		entities := make([]world.Entity, 0, len(snap.Entities))
		for _, es := range snap.Entities {
			entities = append(entities, Decode(es))
		}
		replica.ReplaceAll(entities, snap.Tick)
		a.applied = append(a.applied[:0], snap.Tick)
		return nil
	}

	if !a.hasApplied(snap.Baseline) {
		return fmt.Errorf("%w: baseline %d", ErrUnknownBaseline, snap.Baseline)
	}

	for _, id := range snap.Removed {
		replica.Remove(id)
	}
	for _, es := range snap.Entities {
		if _, known := replica.Get(es.ID); known {
			mergeEntity(replica, es)
			continue
		}
		if err := replica.Insert(Decode(es)); err != nil {
			return fmt.Errorf("snapshot: insert entity %d: %w", es.ID, err)
		}
	}
	replica.SetTick(snap.Tick)
	a.recordApplied(snap.Tick)
	return nil
}

// HasBaseline reports whether the applier has ever applied a snapshot, i.e.
// whether the handshake full snapshot has landed.
func (a *Applier) HasBaseline() bool {
	return len(a.applied) > 0
}

// LatestTick returns the most recently applied tick.
func (a *Applier) LatestTick() (world.Tick, bool) {
	if len(a.applied) == 0 {
		return 0, false
	}
	return a.applied[len(a.applied)-1], true
}

func (a *Applier) hasApplied(tick world.Tick) bool {
	for _, applied := range a.applied {
		if applied == tick {
			return true
		}
	}
	return false
}

func (a *Applier) recordApplied(tick world.Tick) {
	a.applied = append(a.applied, tick)
	if len(a.applied) > appliedHistoryLimit {
		a.applied = a.applied[len(a.applied)-appliedHistoryLimit:]
	}
}

func mergeEntity(replica *world.World, es EntityState) {
	if es.Pos != nil {
		replica.SetPosition(es.ID, *es.Pos)
	}
	if es.Vel != nil {
		replica.SetVelocity(es.ID, *es.Vel)
	}
	if es.Orientation != nil {
		replica.SetOrientation(es.ID, *es.Orientation)
	}
	if es.Shape != nil {
		replica.SetShape(es.ID, *es.Shape)
	}
	if es.Health != nil {
		replica.SetHealth(es.ID, *es.Health)
	}
	if es.Color != nil {
		replica.SetColor(es.ID, *es.Color)
	}
}
