// Package predict runs the local player's movement speculatively so input
// feels instant, then reconciles the speculative state against authoritative
// snapshots by replaying whatever commands the server has not yet confirmed.
package predict

import (
	"time"

	"riftline/server/internal/geom"
	"riftline/server/internal/sim"
	"riftline/server/internal/world"
)

// DefaultBlendWindow is how long a reconciliation correction is smeared over
// before the rendered position fully matches the replayed one.
const DefaultBlendWindow = 150 * time.Millisecond

// Corrections below this distance snap instead of blending.
const correctionEpsilon = 1e-6

// Engine owns the predicted shadow of the local player's entity and the log
// of commands that have been sent but not yet reflected in an authoritative
// snapshot.
type Engine struct {
	env         sim.Env
	blendWindow time.Duration

	shadow    world.Entity
	hasShadow bool
	pending   []sim.Command

	correction  geom.Vec2
	correctedAt time.Time
}

// New constructs an engine that replays movement with the same env the
// server step uses. A non-positive blend window disables smoothing.
func New(env sim.Env, blendWindow time.Duration) *Engine {
	return &Engine{env: env, blendWindow: blendWindow}
}

// PendingCount reports the number of unacknowledged commands in the log.
func (e *Engine) PendingCount() int {
	return len(e.pending)
}

// Predict applies one local command to the shadow immediately and records a
// copy in the unacknowledged log for later replay.
func (e *Engine) Predict(cmd sim.Command) {
	if !e.hasShadow {
		return
	}
	e.pending = append(e.pending, cmd)
	sim.AdvanceShadow(&e.shadow, cmd.Move, e.env)
}

// Reconcile resets the shadow to the authoritative state at authTick, drops
// commands the server has consumed, and replays the remainder in order. When
// the replayed position differs from the pre-replay prediction the visible
// position converges over the blend window instead of snapping.
//
// Reconciliation is a fixed point: with an empty log and an unchanged
// authoritative state, repeated calls leave the shadow untouched.
func (e *Engine) Reconcile(auth world.Entity, authTick world.Tick, now time.Time) {
	if !e.hasShadow {
		e.shadow = auth
		e.hasShadow = true
		e.pending = dropThrough(e.pending, authTick)
		return
	}

	pre := e.visiblePos(now)
	e.pending = dropThrough(e.pending, authTick)
	e.shadow = auth
	for _, cmd := range e.pending {
		sim.AdvanceShadow(&e.shadow, cmd.Move, e.env)
	}

	diff := pre.Sub(e.shadow.Pos)
	if diff.Length() > correctionEpsilon && e.blendWindow > 0 {
		e.correction = diff
		e.correctedAt = now
	} else {
		e.correction = geom.Vec2{}
	}
}

// Shadow returns the raw predicted entity without correction smoothing.
func (e *Engine) Shadow() (world.Entity, bool) {
	return e.shadow, e.hasShadow
}

// Render returns the shadow with the decaying correction offset applied.
// This is the position the local player should be drawn at.
func (e *Engine) Render(now time.Time) (world.Entity, bool) {
	if !e.hasShadow {
		return world.Entity{}, false
	}
	out := e.shadow
	out.Pos = e.visiblePos(now)
	return out, true
}

func (e *Engine) visiblePos(now time.Time) geom.Vec2 {
	if e.correction == (geom.Vec2{}) {
		return e.shadow.Pos
	}
	elapsed := now.Sub(e.correctedAt)
	if elapsed >= e.blendWindow {
		e.correction = geom.Vec2{}
		return e.shadow.Pos
	}
	remaining := 1 - float64(elapsed)/float64(e.blendWindow)
	return e.shadow.Pos.Add(e.correction.Scale(remaining))
}

func dropThrough(pending []sim.Command, authTick world.Tick) []sim.Command {
	kept := pending[:0]
	for _, cmd := range pending {
		if cmd.TargetTick > authTick {
			kept = append(kept, cmd)
		}
	}
	return kept
}
