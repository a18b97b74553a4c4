// Package journal keeps a rolling window of per-tick change sets so the
// snapshot builder can compute a delta against any recently acknowledged
// baseline in O(changed) work. When a baseline falls out of the window the
// builder falls back to a full snapshot.
package journal

import (
	"os"
	"strconv"
	"sync"
	"time"

	"riftline/server/internal/world"
)

const defaultCapacity = 64
const defaultMaxAge = 5 * time.Second

const (
	envJournalCapacity = "CHANGE_JOURNAL_CAPACITY"
	envJournalMaxAgeMS = "CHANGE_JOURNAL_MAX_AGE_MS"
)

// Config tunes how many tick change sets the journal retains.
type Config struct {
	Capacity int
	MaxAge   time.Duration
}

// DefaultConfig loads retention settings from the environment, falling back
// to defaults when unset or invalid.
func DefaultConfig() Config {
	capacity := defaultCapacity
	if raw := os.Getenv(envJournalCapacity); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			capacity = parsed
		}
	}
	maxAge := defaultMaxAge
	if raw := os.Getenv(envJournalMaxAgeMS); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			maxAge = time.Duration(parsed) * time.Millisecond
		}
	}
	return Config{Capacity: capacity, MaxAge: maxAge}
}

type entry struct {
	changes    world.ChangeSet
	recordedAt time.Time
}

// Journal is the per-tick change history ring.
type Journal struct {
	mu      sync.RWMutex
	entries []entry
	cfg     Config
}

// New constructs a journal with the given retention configuration.
func New(cfg Config) *Journal {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	return &Journal{
		entries: make([]entry, 0, cfg.Capacity),
		cfg:     cfg,
	}
}

// Record appends the change set for a tick. Ticks must be recorded in order,
// one entry per tick, including empty ones: contiguity is what lets DiffSince
// fold the window safely.
func (j *Journal) Record(cs world.ChangeSet, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry{changes: cs, recordedAt: now})
	for len(j.entries) > j.cfg.Capacity {
		j.entries = j.entries[1:]
	}
	cutoff := now.Add(-j.cfg.MaxAge)
	for len(j.entries) > 1 && j.entries[0].recordedAt.Before(cutoff) {
		j.entries = j.entries[1:]
	}
}

// Window reports the oldest and newest retained ticks.
func (j *Journal) Window() (oldest, newest world.Tick, ok bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.entries) == 0 {
		return 0, 0, false
	}
	return j.entries[0].changes.Tick, j.entries[len(j.entries)-1].changes.Tick, true
}

// DiffSince folds every retained change set newer than the baseline tick into
// one cumulative change set. ok is false when the baseline is outside the
// retained window and the caller must emit a full snapshot instead.
//
// Folding rules: dirty masks accumulate; an entity created inside the window
// stays in Created regardless of later dirt (it will be fully encoded); an
// entity created and then removed inside the window vanishes from the diff
// entirely. IDs are never reused, so remove-then-create cannot happen.
func (j *Journal) DiffSince(baseline world.Tick) (world.ChangeSet, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.entries) == 0 {
		return world.ChangeSet{}, false
	}
	oldest := j.entries[0].changes.Tick
	newest := j.entries[len(j.entries)-1].changes.Tick
	if baseline+1 < oldest || baseline > newest {
		return world.ChangeSet{}, false
	}

	diff := world.ChangeSet{
		Tick:  newest,
		Dirty: make(map[world.EntityID]world.ComponentMask),
	}
	created := make(map[world.EntityID]struct{})
	removed := make(map[world.EntityID]struct{})
	for _, e := range j.entries {
		if e.changes.Tick <= baseline {
			continue
		}
		for _, id := range e.changes.Created {
			created[id] = struct{}{}
		}
		for id, mask := range e.changes.Dirty {
			if _, isNew := created[id]; isNew {
				continue
			}
			diff.Dirty[id] |= mask
		}
		for _, id := range e.changes.Removed {
			if _, isNew := created[id]; isNew {
				delete(created, id)
			} else {
				removed[id] = struct{}{}
			}
			delete(diff.Dirty, id)
		}
	}
	diff.Created = sortedIDs(created)
	diff.Removed = sortedIDs(removed)
	return diff, true
}

func sortedIDs(set map[world.EntityID]struct{}) []world.EntityID {
	if len(set) == 0 {
		return nil
	}
	ids := make([]world.EntityID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for k := i; k > 0 && ids[k] < ids[k-1]; k-- {
			ids[k], ids[k-1] = ids[k-1], ids[k]
		}
	}
	return ids
}
