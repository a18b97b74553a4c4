package journal

import (
	"reflect"
	"testing"
	"time"

	"riftline/server/internal/world"
)

func recordTicks(j *Journal, base time.Time, sets ...world.ChangeSet) {
	for i, cs := range sets {
		j.Record(cs, base.Add(time.Duration(i)*66*time.Millisecond))
	}
}

func TestDiffSinceFoldsDirtyMasks(t *testing.T) {
	j := New(Config{Capacity: 16, MaxAge: time.Minute})
	base := time.Unix(100, 0)
	recordTicks(j, base,
		world.ChangeSet{Tick: 1, Dirty: map[world.EntityID]world.ComponentMask{5: world.CompPosition}},
		world.ChangeSet{Tick: 2, Dirty: map[world.EntityID]world.ComponentMask{5: world.CompHealth, 6: world.CompPosition}},
		world.ChangeSet{Tick: 3, Dirty: map[world.EntityID]world.ComponentMask{5: world.CompPosition}},
	)

	diff, ok := j.DiffSince(1)
	if !ok {
		t.Fatalf("expected baseline 1 inside the window")
	}
	if diff.Tick != 3 {
		t.Fatalf("expected diff stamped with newest tick 3, got %d", diff.Tick)
	}
	want := map[world.EntityID]world.ComponentMask{
		5: world.CompPosition | world.CompHealth,
		6: world.CompPosition,
	}
	if !reflect.DeepEqual(diff.Dirty, want) {
		t.Fatalf("unexpected folded dirty set %v, want %v", diff.Dirty, want)
	}
}

func TestDiffSinceEqualBaselineIsEmpty(t *testing.T) {
	j := New(Config{Capacity: 16, MaxAge: time.Minute})
	recordTicks(j, time.Unix(100, 0),
		world.ChangeSet{Tick: 1, Dirty: map[world.EntityID]world.ComponentMask{5: world.CompPosition}},
	)
	diff, ok := j.DiffSince(1)
	if !ok {
		t.Fatalf("expected current baseline to be valid")
	}
	if !diff.Empty() {
		t.Fatalf("expected empty diff for up-to-date baseline, got %+v", diff)
	}
}

func TestDiffSinceRejectsEvictedBaseline(t *testing.T) {
	j := New(Config{Capacity: 2, MaxAge: time.Minute})
	recordTicks(j, time.Unix(100, 0),
		world.ChangeSet{Tick: 1},
		world.ChangeSet{Tick: 2},
		world.ChangeSet{Tick: 3},
	)
	if _, ok := j.DiffSince(1); ok {
		t.Fatalf("expected evicted baseline 1 to force a full snapshot")
	}
	if _, ok := j.DiffSince(9); ok {
		t.Fatalf("expected future baseline to be rejected")
	}
	if _, ok := j.DiffSince(2); !ok {
		t.Fatalf("expected baseline 2 to remain valid")
	}
}

func TestDiffSinceCreatedEntityStaysCreated(t *testing.T) {
	j := New(Config{Capacity: 16, MaxAge: time.Minute})
	recordTicks(j, time.Unix(100, 0),
		world.ChangeSet{Tick: 1, Created: []world.EntityID{7}},
		world.ChangeSet{Tick: 2, Dirty: map[world.EntityID]world.ComponentMask{7: world.CompPosition}},
	)
	diff, _ := j.DiffSince(0)
	if !reflect.DeepEqual(diff.Created, []world.EntityID{7}) {
		t.Fatalf("expected entity 7 in created list, got %v", diff.Created)
	}
	if _, dirty := diff.Dirty[7]; dirty {
		t.Fatalf("created entities must not also appear dirty: %v", diff.Dirty)
	}
}

func TestDiffSinceCreateThenRemoveCollapses(t *testing.T) {
	j := New(Config{Capacity: 16, MaxAge: time.Minute})
	recordTicks(j, time.Unix(100, 0),
		world.ChangeSet{Tick: 1, Created: []world.EntityID{9}},
		world.ChangeSet{Tick: 2, Dirty: map[world.EntityID]world.ComponentMask{9: world.CompPosition}},
		world.ChangeSet{Tick: 3, Removed: []world.EntityID{9}},
	)
	diff, _ := j.DiffSince(0)
	if !diff.Empty() {
		t.Fatalf("entity that lived only inside the window must vanish from the diff, got %+v", diff)
	}
}

func TestDiffSinceRemovalDropsDirt(t *testing.T) {
	j := New(Config{Capacity: 16, MaxAge: time.Minute})
	recordTicks(j, time.Unix(100, 0),
		world.ChangeSet{Tick: 1, Dirty: map[world.EntityID]world.ComponentMask{4: world.CompPosition}},
		world.ChangeSet{Tick: 2, Removed: []world.EntityID{4}},
	)
	diff, _ := j.DiffSince(0)
	if len(diff.Dirty) != 0 {
		t.Fatalf("removed entity must not be encoded dirty, got %v", diff.Dirty)
	}
	if !reflect.DeepEqual(diff.Removed, []world.EntityID{4}) {
		t.Fatalf("expected removal of entity 4, got %v", diff.Removed)
	}
}

func TestRecordEvictsByAge(t *testing.T) {
	j := New(Config{Capacity: 100, MaxAge: time.Second})
	base := time.Unix(100, 0)
	j.Record(world.ChangeSet{Tick: 1}, base)
	j.Record(world.ChangeSet{Tick: 2}, base.Add(2*time.Second))

	oldest, newest, ok := j.Window()
	if !ok || oldest != 2 || newest != 2 {
		t.Fatalf("expected stale entry evicted, window [%d, %d] ok=%v", oldest, newest, ok)
	}
}
