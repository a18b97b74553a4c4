package world

import (
	"reflect"
	"testing"

	"riftline/server/internal/geom"
)

func TestSpawnAssignsMonotonicIDs(t *testing.T) {
	w := New()
	var last EntityID
	for i := 0; i < 5; i++ {
		e, err := w.Spawn(KindPlayer)
		if err != nil {
			t.Fatalf("spawn failed: %v", err)
		}
		if e.ID <= last {
			t.Fatalf("expected strictly increasing ids, got %d after %d", e.ID, last)
		}
		last = e.ID
	}
	removedID := last
	if !w.Remove(removedID) {
		t.Fatalf("expected removal of entity %d", removedID)
	}
	e, err := w.Spawn(KindBullet)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	if e.ID <= removedID {
		t.Fatalf("expected id beyond removed %d, got %d", removedID, e.ID)
	}
}

func TestSpawnRequiresAuthoritativeStore(t *testing.T) {
	replica := NewReplica()
	if _, err := replica.Spawn(KindPlayer); err != ErrNotAuthoritative {
		t.Fatalf("expected ErrNotAuthoritative, got %v", err)
	}
	if err := replica.Insert(Entity{ID: 7, Kind: KindPlayer, Mask: KindComponents(KindPlayer)}); err != nil {
		t.Fatalf("replica insert failed: %v", err)
	}
	if err := replica.Insert(Entity{ID: 7, Kind: KindPlayer}); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}
}

func TestKindComponentsInvariant(t *testing.T) {
	w := New()
	player, _ := w.Spawn(KindPlayer)
	if player.Mask != KindComponents(KindPlayer) {
		t.Fatalf("player mask %b does not match required %b", player.Mask, KindComponents(KindPlayer))
	}
	bullet, _ := w.Spawn(KindBullet)
	if bullet.Mask.Has(CompHealth) {
		t.Fatalf("bullet should not carry a health component")
	}
	if w.SetHealth(bullet.ID, Health{Current: 1, Max: 1}) {
		t.Fatalf("setting a component outside the kind's set must be rejected")
	}
}

func TestDrainChangesTracksDirtyComponents(t *testing.T) {
	w := New()
	a, _ := w.Spawn(KindPlayer)
	b, _ := w.Spawn(KindPlayer)
	w.DrainChanges(1) // flush the spawns

	w.SetPosition(a.ID, geom.Vec2{X: 4})
	w.SetHealth(b.ID, Health{Current: 50, Max: 100})
	w.SetHealth(b.ID, Health{Current: 40, Max: 100})

	cs := w.DrainChanges(2)
	if cs.Tick != 2 {
		t.Fatalf("expected tick 2, got %d", cs.Tick)
	}
	want := map[EntityID]ComponentMask{
		a.ID: CompPosition,
		b.ID: CompHealth,
	}
	if !reflect.DeepEqual(cs.Dirty, want) {
		t.Fatalf("unexpected dirty set %v, want %v", cs.Dirty, want)
	}
	if len(cs.Created) != 0 || len(cs.Removed) != 0 {
		t.Fatalf("expected no lifecycle changes, got %+v", cs)
	}
	if next := w.DrainChanges(3); !next.Empty() {
		t.Fatalf("expected drained store to report no changes, got %+v", next)
	}
}

func TestSetterIgnoresNoopWrites(t *testing.T) {
	w := New()
	e, _ := w.Spawn(KindPlayer)
	w.DrainChanges(1)

	w.SetPosition(e.ID, geom.Vec2{})
	w.SetColor(e.ID, "")
	if cs := w.DrainChanges(2); !cs.Empty() {
		t.Fatalf("expected writes of identical values to stay clean, got %+v", cs)
	}
}

func TestRemovalWithinSpawnTickCollapses(t *testing.T) {
	w := New()
	e, _ := w.Spawn(KindBullet)
	w.Remove(e.ID)
	cs := w.DrainChanges(1)
	if !cs.Empty() {
		t.Fatalf("spawn+remove in one tick should produce an empty change set, got %+v", cs)
	}
}

func TestScheduledRemovalsAreDeferred(t *testing.T) {
	w := New()
	e, _ := w.Spawn(KindBullet)
	w.DrainChanges(1)

	w.ScheduleRemoval(e.ID)
	w.ScheduleRemoval(e.ID)
	if _, ok := w.Get(e.ID); !ok {
		t.Fatalf("scheduled entity must remain live until taken")
	}
	taken := w.TakeScheduledRemovals()
	if len(taken) != 1 || taken[0] != e.ID {
		t.Fatalf("expected a single scheduled removal for %d, got %v", e.ID, taken)
	}
	w.Remove(e.ID)
	cs := w.DrainChanges(2)
	if len(cs.Removed) != 1 || cs.Removed[0] != e.ID {
		t.Fatalf("expected removal of %d in change set, got %v", e.ID, cs.Removed)
	}
	if again := w.TakeScheduledRemovals(); len(again) != 0 {
		t.Fatalf("scheduled removals must clear after take, got %v", again)
	}
}

func TestForEachKindVisitsInIDOrder(t *testing.T) {
	w := New()
	p1, _ := w.Spawn(KindPlayer)
	w.Spawn(KindBullet)
	p2, _ := w.Spawn(KindPlayer)

	var seen []EntityID
	w.ForEachKind(KindPlayer, func(e *Entity) {
		seen = append(seen, e.ID)
	})
	if !reflect.DeepEqual(seen, []EntityID{p1.ID, p2.ID}) {
		t.Fatalf("expected players %v in order, got %v", []EntityID{p1.ID, p2.ID}, seen)
	}
}

func TestReplaceAllResetsReplica(t *testing.T) {
	replica := NewReplica()
	if err := replica.Insert(Entity{ID: 3, Kind: KindPlayer, Mask: KindComponents(KindPlayer)}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	replica.ReplaceAll([]Entity{
		{ID: 9, Kind: KindBullet, Mask: KindComponents(KindBullet)},
		{ID: 5, Kind: KindPlayer, Mask: KindComponents(KindPlayer)},
	}, 42)
	if replica.Tick() != 42 {
		t.Fatalf("expected tick 42, got %d", replica.Tick())
	}
	if _, ok := replica.Get(3); ok {
		t.Fatalf("old entity survived full replace")
	}
	var order []EntityID
	replica.ForEach(func(e *Entity) { order = append(order, e.ID) })
	if !reflect.DeepEqual(order, []EntityID{5, 9}) {
		t.Fatalf("expected id-ordered iteration [5 9], got %v", order)
	}
}
