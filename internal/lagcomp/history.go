// Package lagcomp retains short per-entity position history so the server can
// resolve hit-relevant commands against the world as the shooting client saw
// it, compensating for network delay and the client's interpolation offset.
package lagcomp

import (
	"sync"
	"time"

	"riftline/server/internal/collision"
	"riftline/server/internal/geom"
	"riftline/server/internal/world"
)

// DefaultRetention covers roughly one second of history at any tick rate.
const DefaultRetention = time.Second

// Sample is one recorded (tick, position, shape) tuple for an entity.
type Sample struct {
	Tick  world.Tick
	At    time.Time
	Pos   geom.Vec2
	Shape collision.Shape
}

// History is a per-entity ring of recent samples. Recording happens once per
// tick on the simulation goroutine; rewinds happen on the same goroutine while
// commands are processed.
type History struct {
	mu        sync.Mutex
	retention time.Duration
	entries   map[world.EntityID][]Sample
}

// New constructs a history with the given retention window.
func New(retention time.Duration) *History {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &History{
		retention: retention,
		entries:   make(map[world.EntityID][]Sample),
	}
}

// Retention reports the configured window.
func (h *History) Retention() time.Duration {
	return h.retention
}

// Record captures the position of every positioned entity at the given tick
// and evicts samples older than the retention window. Entities no longer in
// the store are forgotten.
func (h *History) Record(w *world.World, tick world.Tick, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[world.EntityID]struct{}, w.Len())
	w.ForEach(func(e *world.Entity) {
		if !e.Mask.Has(world.CompPosition) {
			return
		}
		seen[e.ID] = struct{}{}
		h.entries[e.ID] = append(h.entries[e.ID], Sample{
			Tick:  tick,
			At:    now,
			Pos:   e.Pos,
			Shape: e.Shape,
		})
	})
	cutoff := now.Add(-h.retention)
	for id, samples := range h.entries {
		if _, live := seen[id]; !live {
			delete(h.entries, id)
			continue
		}
		idx := 0
		for idx < len(samples)-1 && samples[idx].At.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			h.entries[id] = append(samples[:0], samples[idx:]...)
		}
	}
}

// Forget drops all history for an entity, used on disconnect.
func (h *History) Forget(id world.EntityID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, id)
}

// RewindTime estimates when the issuing client observed the world:
// receive time minus measured one-way latency minus the client's
// interpolation delay.
func RewindTime(receivedAt time.Time, latency, interpolationDelay time.Duration) time.Time {
	return receivedAt.Add(-latency).Add(-interpolationDelay)
}

// At returns the entity's position interpolated to the given instant. Times
// outside the retained window clamp to the oldest or newest sample, so a
// rewind never fails; ok is false only when the entity has no history at all.
func (h *History) At(id world.EntityID, t time.Time) (Sample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	samples := h.entries[id]
	if len(samples) == 0 {
		return Sample{}, false
	}
	if !t.After(samples[0].At) {
		return samples[0], true
	}
	last := samples[len(samples)-1]
	if !t.Before(last.At) {
		return last, true
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].At.Before(t) {
			continue
		}
		lo, hi := samples[i-1], samples[i]
		span := hi.At.Sub(lo.At)
		if span <= 0 {
			return hi, true
		}
		frac := float64(t.Sub(lo.At)) / float64(span)
		blended := lo
		blended.Pos = geom.Lerp(lo.Pos, hi.Pos, frac)
		return blended, true
	}
	return last, true
}
