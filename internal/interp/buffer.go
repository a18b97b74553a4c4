// Package interp renders remote entities a fixed delay behind the newest
// received snapshot, blending the two buffered snapshots that bracket the
// render time. The delay is what guarantees a bracket usually exists; when it
// does not, the buffer shows a known state verbatim instead of extrapolating.
package interp

import (
	"time"

	"riftline/server/internal/collision"
	"riftline/server/internal/geom"
	"riftline/server/internal/world"
)

// Config tunes the render delay and how much history the buffer keeps.
type Config struct {
	// Delay is the deliberate render-time offset behind the newest snapshot.
	Delay time.Duration
	// Capacity bounds the number of retained snapshots.
	Capacity int
	// Retention is how long an entity missing from one bracket may still be
	// drawn at its last known state before it is omitted as stale.
	Retention time.Duration
}

// DefaultConfig matches a 15 Hz server with a 100 ms interpolation delay.
func DefaultConfig() Config {
	return Config{
		Delay:     100 * time.Millisecond,
		Capacity:  16,
		Retention: time.Second,
	}
}

// RenderEntity is the blended view of one entity handed to the renderer.
type RenderEntity struct {
	ID          world.EntityID
	Kind        world.EntityKind
	Pos         geom.Vec2
	Orientation float64
	Shape       collision.Shape
	Health      world.Health
	Color       world.Color
}

type frame struct {
	tick       world.Tick
	receivedAt time.Time
	entities   map[world.EntityID]world.Entity
	order      []world.EntityID
}

// Buffer retains the most recent applied snapshots ordered by tick.
type Buffer struct {
	cfg    Config
	frames []frame
}

// NewBuffer constructs a buffer with the given configuration.
func NewBuffer(cfg Config) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Buffer{cfg: cfg}
}

// Push captures the replica state right after a snapshot was applied.
func (b *Buffer) Push(w *world.World, receivedAt time.Time) {
	f := frame{
		tick:       w.Tick(),
		receivedAt: receivedAt,
		entities:   make(map[world.EntityID]world.Entity, w.Len()),
	}
	w.ForEach(func(e *world.Entity) {
		f.entities[e.ID] = *e
		f.order = append(f.order, e.ID)
	})
	b.frames = append(b.frames, f)
	if len(b.frames) > b.cfg.Capacity {
		b.frames = b.frames[len(b.frames)-b.cfg.Capacity:]
	}
}

// Len reports the number of buffered snapshots.
func (b *Buffer) Len() int {
	return len(b.frames)
}

// Sample produces the render state at the delayed cursor
// (newest receive time minus the configured delay). Once a bracket is
// established, frames entirely behind it are evicted.
func (b *Buffer) Sample() []RenderEntity {
	if len(b.frames) == 0 {
		return nil
	}
	latest := b.frames[len(b.frames)-1]
	renderTime := latest.receivedAt.Add(-b.cfg.Delay)

	if !renderTime.After(b.frames[0].receivedAt) {
		return renderFrame(b.frames[0])
	}
	if !renderTime.Before(latest.receivedAt) {
		return renderFrame(latest)
	}

	lower := 0
	for i := 1; i < len(b.frames); i++ {
		if b.frames[i].receivedAt.After(renderTime) {
			break
		}
		lower = i
	}
	from, to := b.frames[lower], b.frames[lower+1]
	if lower > 0 {
		b.frames = append(b.frames[:0], b.frames[lower:]...)
	}

	span := to.receivedAt.Sub(from.receivedAt)
	frac := 0.0
	if span > 0 {
		frac = float64(renderTime.Sub(from.receivedAt)) / float64(span)
	}
	staleCutoff := latest.receivedAt.Add(-b.cfg.Retention)

	out := make([]RenderEntity, 0, len(to.entities))
	for _, id := range to.order {
		newer := to.entities[id]
		if older, shared := from.entities[id]; shared {
			blended := render(newer)
			blended.Pos = geom.Lerp(older.Pos, newer.Pos, frac)
			blended.Orientation = geom.LerpAngle(older.Orientation, newer.Orientation, frac)
			out = append(out, blended)
			continue
		}
		// Entity spawned after the lower bracket: show it where it is.
		out = append(out, render(newer))
	}
	for _, id := range from.order {
		if _, shared := to.entities[id]; shared {
			continue
		}
		// Entity gone from the newer bracket: keep its last known state
		// unless the frame it lives in has gone stale.
		if from.receivedAt.Before(staleCutoff) {
			continue
		}
		out = append(out, render(from.entities[id]))
	}
	return out
}

func renderFrame(f frame) []RenderEntity {
	out := make([]RenderEntity, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, render(f.entities[id]))
	}
	return out
}

func render(e world.Entity) RenderEntity {
	return RenderEntity{
		ID:          e.ID,
		Kind:        e.Kind,
		Pos:         e.Pos,
		Orientation: e.Orientation,
		Shape:       e.Shape,
		Health:      e.Health,
		Color:       e.Color,
	}
}
