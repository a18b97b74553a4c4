package sim

import (
	"math"

	"riftline/server/internal/collision"
	"riftline/server/internal/geom"
	"riftline/server/internal/lagcomp"
	"riftline/server/internal/world"
)

// HitReport describes one resolved hitscan impact.
type HitReport struct {
	Attacker world.EntityID
	Target   world.EntityID
	Damage   float64
	Killed   bool
}

// Effects lists the side effects of one step: entities spawned, entities
// removed, and hits landed.
type Effects struct {
	Spawned []world.EntityID
	Removed []world.EntityID
	Hits    []HitReport
}

// Step advances the store by exactly one tick. It is deterministic given the
// store contents, the tick, the command list, and the env capabilities; no
// wall clock is read here, so the movement portion can be replayed verbatim
// by the client prediction engine.
//
// Order within a step: flush removals scheduled by the previous step, apply
// commands, advance bullets, then schedule out-of-bounds entities for removal
// at the next step so this tick's snapshot still shows their final state.
func Step(w *world.World, tick world.Tick, cmds []Command, env Env) Effects {
	var fx Effects

	for _, id := range w.TakeScheduledRemovals() {
		if w.Remove(id) {
			fx.Removed = append(fx.Removed, id)
		}
	}

	for _, cmd := range cmds {
		actor, ok := w.Get(cmd.ActorID)
		if !ok || actor.Kind != world.KindPlayer {
			continue
		}
		MoveActor(w, cmd.ActorID, cmd.Move, env)
		if cmd.Flags&ActionFire != 0 {
			resolveFire(w, cmd, &fx, env)
		}
	}

	advanceBullets(w, env)

	w.ForEach(func(e *world.Entity) {
		if !env.Bounds.Contains(e.Pos) {
			w.ScheduleRemoval(e.ID)
		}
	})

	w.SetTick(tick)
	return fx
}

// MoveActor applies a movement intent to one actor through the collision
// capability. The server step and the prediction replay share this exact
// path, which is what makes reconciliation converge.
func MoveActor(w *world.World, id world.EntityID, move geom.Vec2, env Env) {
	e, ok := w.Get(id)
	if !ok {
		return
	}
	shadow := *e
	AdvanceShadow(&shadow, move, env)
	w.SetVelocity(id, shadow.Vel)
	w.SetOrientation(id, shadow.Orientation)
	w.SetPosition(id, shadow.Pos)
}

// AdvanceShadow integrates one movement intent on a detached entity copy.
// The prediction engine runs this against its local shadow without touching
// any store.
func AdvanceShadow(e *world.Entity, move geom.Vec2, env Env) {
	dir := move.Normalized()
	vel := dir.Scale(env.Tuning.MoveSpeed)
	next, _ := env.Resolver.Resolve(e.Pos, vel.Scale(env.Tuning.DT()), e.Shape)
	e.Vel = vel
	e.Pos = next
	if dir != (geom.Vec2{}) {
		e.Orientation = math.Atan2(dir.Y, dir.X)
	}
}

func advanceBullets(w *world.World, env Env) {
	var bullets []world.EntityID
	w.ForEachKind(world.KindBullet, func(e *world.Entity) {
		bullets = append(bullets, e.ID)
	})
	for _, id := range bullets {
		e, ok := w.Get(id)
		if !ok {
			continue
		}
		next, _ := env.BulletPath.Resolve(e.Pos, e.Vel.Scale(env.Tuning.DT()), e.Shape)
		w.SetPosition(id, next)
	}
}

// resolveFire runs a hitscan shot from the actor's position along its facing.
// Target positions are rewound to the instant the shooter acted, clamped to
// the retained history window, so hits land where the shooter aimed.
func resolveFire(w *world.World, cmd Command, fx *Effects, env Env) {
	shooter, ok := w.Get(cmd.ActorID)
	if !ok {
		return
	}
	dir := geom.Vec2{X: math.Cos(shooter.Orientation), Y: math.Sin(shooter.Orientation)}
	origin := shooter.Pos

	var rewindAt = cmd.ReceivedAt
	if !cmd.ReceivedAt.IsZero() {
		rewindAt = lagcomp.RewindTime(cmd.ReceivedAt, cmd.Latency, env.Tuning.InterpolationDelay)
	}

	bestDist := env.Tuning.FireRange
	var bestTarget *world.Entity
	w.ForEachKind(world.KindPlayer, func(target *world.Entity) {
		if target.ID == cmd.ActorID {
			return
		}
		pos := target.Pos
		radius := math.Max(target.Shape.HalfW, target.Shape.HalfH)
		if env.Compensator != nil && !rewindAt.IsZero() {
			if sample, ok := env.Compensator.At(target.ID, rewindAt); ok {
				pos = sample.Pos
				radius = math.Max(sample.Shape.HalfW, sample.Shape.HalfH)
			}
		}
		to := pos.Sub(origin)
		along := to.Dot(dir)
		if along <= 0 || along > bestDist {
			return
		}
		if perp := to.Sub(dir.Scale(along)).Length(); perp > radius {
			return
		}
		bestDist = along
		bestTarget = target
	})

	if bestTarget != nil {
		health := bestTarget.Health
		health.Current -= env.Tuning.FireDamage
		report := HitReport{
			Attacker: cmd.ActorID,
			Target:   bestTarget.ID,
			Damage:   env.Tuning.FireDamage,
		}
		if health.Current <= 0 {
			health.Current = 0
			report.Killed = true
			w.ScheduleRemoval(bestTarget.ID)
		}
		w.SetHealth(bestTarget.ID, health)
		fx.Hits = append(fx.Hits, report)
	}

	spawnTracer(w, shooter, dir, fx, env)
}

// spawnTracer emits the visible bullet entity that travels until it leaves
// the playable bounds.
func spawnTracer(w *world.World, shooter *world.Entity, dir geom.Vec2, fx *Effects, env Env) {
	bullet, err := w.Spawn(world.KindBullet)
	if err != nil {
		return
	}
	half := env.Tuning.BulletHalf
	muzzle := shooter.Pos.Add(dir.Scale(shooter.Shape.HalfW + half + 1))
	w.SetShape(bullet.ID, shapeOf(half))
	w.SetPosition(bullet.ID, muzzle)
	w.SetVelocity(bullet.ID, dir.Scale(env.Tuning.BulletSpeed))
	w.SetOrientation(bullet.ID, math.Atan2(dir.Y, dir.X))
	fx.Spawned = append(fx.Spawned, bullet.ID)
}

func shapeOf(half float64) collision.Shape {
	return collision.Shape{HalfW: half, HalfH: half}
}
