// Package world holds the entity/component table shared by the authoritative
// server simulation and the client replica. The store carries no behavior:
// systems mutate it through the setter methods, which double as the dirty
// tracking feed for delta snapshots.
package world

import (
	"errors"
	"fmt"
	"sort"

	"riftline/server/internal/collision"
	"riftline/server/internal/geom"
)

// EntityID is allocated by the server, strictly increasing, and never reused.
// Clients only ever hold IDs the server told them about.
type EntityID uint32

// Tick is the shared simulation counter. One Step advances it by exactly one.
type Tick uint32

// Entity is a single row of the store: a kind plus the sparse component set
// the kind requires. Component fields are only meaningful when the matching
// mask bit is set.
type Entity struct {
	ID          EntityID
	Kind        EntityKind
	Mask        ComponentMask
	Pos         geom.Vec2
	Vel         geom.Vec2
	Orientation float64
	Shape       collision.Shape
	Health      Health
	Color       Color
}

// ChangeSet records everything that changed during one tick: per-entity dirty
// component bits, spawned entity IDs, and removed entity IDs. Spawned and
// removed entities do not appear in Dirty.
type ChangeSet struct {
	Tick    Tick
	Dirty   map[EntityID]ComponentMask
	Created []EntityID
	Removed []EntityID
}

// Empty reports whether the change set carries no mutations.
func (c ChangeSet) Empty() bool {
	return len(c.Dirty) == 0 && len(c.Created) == 0 && len(c.Removed) == 0
}

// ErrNotAuthoritative is returned when a replica attempts a server-only
// mutation such as spawning entities.
var ErrNotAuthoritative = errors.New("world: store is not authoritative")

// World maps EntityID to entity data. The authoritative instance lives on the
// server; replicas are derived from snapshots and disposable.
type World struct {
	tick          Tick
	nextID        EntityID
	entities      map[EntityID]*Entity
	order         []EntityID
	authoritative bool

	dirty          map[EntityID]ComponentMask
	created        map[EntityID]struct{}
	removed        []EntityID
	pendingRemoval []EntityID
}

// New constructs the authoritative server store.
func New() *World {
	w := newEmpty()
	w.authoritative = true
	return w
}

// NewReplica constructs a client-side store populated only via snapshots.
func NewReplica() *World {
	return newEmpty()
}

func newEmpty() *World {
	return &World{
		entities: make(map[EntityID]*Entity),
		dirty:    make(map[EntityID]ComponentMask),
		created:  make(map[EntityID]struct{}),
	}
}

// Tick returns the tick the store currently reflects.
func (w *World) Tick() Tick {
	return w.tick
}

// SetTick records the tick the store reflects after a step or snapshot apply.
func (w *World) SetTick(tick Tick) {
	w.tick = tick
}

// Len reports the number of live entities.
func (w *World) Len() int {
	return len(w.entities)
}

// Spawn allocates the next EntityID and inserts an entity of the given kind
// with its required component set. Server-only.
func (w *World) Spawn(kind EntityKind) (*Entity, error) {
	if !w.authoritative {
		return nil, ErrNotAuthoritative
	}
	mask := KindComponents(kind)
	if mask == 0 {
		return nil, fmt.Errorf("world: unknown entity kind %q", kind)
	}
	w.nextID++
	e := &Entity{ID: w.nextID, Kind: kind, Mask: mask}
	w.entities[e.ID] = e
	w.order = append(w.order, e.ID)
	w.created[e.ID] = struct{}{}
	return e, nil
}

// Insert places an entity with a known ID into a replica. Used by the
// snapshot applier when a delta introduces an entity the client has not seen.
func (w *World) Insert(e Entity) error {
	if w.authoritative {
		return errors.New("world: insert with explicit id on authoritative store")
	}
	if _, exists := w.entities[e.ID]; exists {
		return fmt.Errorf("world: duplicate entity %d", e.ID)
	}
	stored := e
	w.entities[e.ID] = &stored
	w.order = append(w.order, e.ID)
	sortIDs(w.order)
	return nil
}

// Remove deletes an entity. On the server the removal is recorded in the
// current change set; replicas only call this from the snapshot applier.
func (w *World) Remove(id EntityID) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	w.order = deleteID(w.order, id)
	if _, wasCreated := w.created[id]; wasCreated {
		// Spawned and removed within the same tick: nothing to broadcast.
		delete(w.created, id)
	} else if w.authoritative {
		w.removed = append(w.removed, id)
	}
	delete(w.dirty, id)
	return true
}

// ScheduleRemoval marks an entity for removal at the start of the next step,
// so the current tick's snapshot still carries its final state.
func (w *World) ScheduleRemoval(id EntityID) {
	for _, pending := range w.pendingRemoval {
		if pending == id {
			return
		}
	}
	w.pendingRemoval = append(w.pendingRemoval, id)
}

// TakeScheduledRemovals returns and clears the IDs scheduled for removal.
func (w *World) TakeScheduledRemovals() []EntityID {
	taken := w.pendingRemoval
	w.pendingRemoval = nil
	return taken
}

// Get returns the entity with the given ID.
func (w *World) Get(id EntityID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// ForEach visits every entity in ascending ID order.
func (w *World) ForEach(fn func(*Entity)) {
	for _, id := range w.order {
		if e, ok := w.entities[id]; ok {
			fn(e)
		}
	}
}

// ForEachKind visits entities of one kind in ascending ID order.
func (w *World) ForEachKind(kind EntityKind, fn func(*Entity)) {
	for _, id := range w.order {
		if e, ok := w.entities[id]; ok && e.Kind == kind {
			fn(e)
		}
	}
}

// SetPosition updates the translation component and marks it dirty.
func (w *World) SetPosition(id EntityID, pos geom.Vec2) bool {
	e, ok := w.entities[id]
	if !ok || !e.Mask.Has(CompPosition) {
		return false
	}
	if e.Pos != pos {
		e.Pos = pos
		w.markDirty(id, CompPosition)
	}
	return true
}

// SetVelocity updates the velocity component and marks it dirty.
func (w *World) SetVelocity(id EntityID, vel geom.Vec2) bool {
	e, ok := w.entities[id]
	if !ok || !e.Mask.Has(CompVelocity) {
		return false
	}
	if e.Vel != vel {
		e.Vel = vel
		w.markDirty(id, CompVelocity)
	}
	return true
}

// SetOrientation updates the facing angle and marks it dirty.
func (w *World) SetOrientation(id EntityID, angle float64) bool {
	e, ok := w.entities[id]
	if !ok || !e.Mask.Has(CompOrientation) {
		return false
	}
	if e.Orientation != angle {
		e.Orientation = angle
		w.markDirty(id, CompOrientation)
	}
	return true
}

// SetShape updates the collision extent and marks it dirty.
func (w *World) SetShape(id EntityID, shape collision.Shape) bool {
	e, ok := w.entities[id]
	if !ok || !e.Mask.Has(CompShape) {
		return false
	}
	if e.Shape != shape {
		e.Shape = shape
		w.markDirty(id, CompShape)
	}
	return true
}

// SetHealth updates the health pool and marks it dirty.
func (w *World) SetHealth(id EntityID, health Health) bool {
	e, ok := w.entities[id]
	if !ok || !e.Mask.Has(CompHealth) {
		return false
	}
	if e.Health != health {
		e.Health = health
		w.markDirty(id, CompHealth)
	}
	return true
}

// SetColor updates the team tint and marks it dirty.
func (w *World) SetColor(id EntityID, color Color) bool {
	e, ok := w.entities[id]
	if !ok || !e.Mask.Has(CompColor) {
		return false
	}
	if e.Color != color {
		e.Color = color
		w.markDirty(id, CompColor)
	}
	return true
}

// MarkDirty records component bits as changed without going through a setter.
// The snapshot applier uses it when merging delta payloads into a replica.
func (w *World) MarkDirty(id EntityID, mask ComponentMask) {
	if _, ok := w.entities[id]; !ok {
		return
	}
	w.markDirty(id, mask)
}

func (w *World) markDirty(id EntityID, mask ComponentMask) {
	if _, wasCreated := w.created[id]; wasCreated {
		// Freshly spawned entities are always fully encoded.
		return
	}
	w.dirty[id] |= mask
}

// DrainChanges returns the accumulated change set stamped with the given tick
// and resets the per-tick tracking. Called once per simulation step.
func (w *World) DrainChanges(tick Tick) ChangeSet {
	cs := ChangeSet{
		Tick:    tick,
		Dirty:   w.dirty,
		Removed: w.removed,
	}
	if len(w.created) > 0 {
		cs.Created = make([]EntityID, 0, len(w.created))
		for id := range w.created {
			cs.Created = append(cs.Created, id)
		}
		sortIDs(cs.Created)
	}
	w.dirty = make(map[EntityID]ComponentMask)
	w.created = make(map[EntityID]struct{})
	w.removed = nil
	return cs
}

// ReplaceAll discards the replica contents and installs the given entities,
// used when applying a full snapshot.
func (w *World) ReplaceAll(entities []Entity, tick Tick) {
	w.entities = make(map[EntityID]*Entity, len(entities))
	w.order = w.order[:0]
	for _, e := range entities {
		stored := e
		w.entities[e.ID] = &stored
		w.order = append(w.order, e.ID)
	}
	sortIDs(w.order)
	w.tick = tick
	w.dirty = make(map[EntityID]ComponentMask)
	w.created = make(map[EntityID]struct{})
	w.removed = nil
	w.pendingRemoval = nil
}

func sortIDs(ids []EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func deleteID(ids []EntityID, id EntityID) []EntityID {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
