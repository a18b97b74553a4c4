package predict

import (
	"math"
	"testing"
	"time"

	"riftline/server/internal/collision"
	"riftline/server/internal/geom"
	"riftline/server/internal/sim"
	"riftline/server/internal/world"
)

func testEnv() sim.Env {
	bounds := collision.Bounds{Max: geom.Vec2{X: 800, Y: 600}}
	return sim.Env{
		Resolver:   collision.ClampResolver{Bounds: bounds},
		BulletPath: collision.PassResolver{},
		Bounds:     bounds,
		Tuning:     sim.DefaultTuning(),
	}
}

func localPlayer(pos geom.Vec2) world.Entity {
	return world.Entity{
		ID:    1,
		Kind:  world.KindPlayer,
		Mask:  world.KindComponents(world.KindPlayer),
		Pos:   pos,
		Shape: collision.Shape{HalfW: 14, HalfH: 14},
	}
}

func TestPredictAdvancesShadowImmediately(t *testing.T) {
	env := testEnv()
	e := New(env, DefaultBlendWindow)
	e.Reconcile(localPlayer(geom.Vec2{X: 100, Y: 100}), 99, time.Unix(0, 0))

	e.Predict(sim.Command{TargetTick: 100, Move: geom.Vec2{X: 1}})

	shadow, ok := e.Shadow()
	if !ok {
		t.Fatalf("expected a shadow after seeding")
	}
	want := 100 + env.Tuning.MoveSpeed*env.Tuning.DT()
	if math.Abs(shadow.Pos.X-want) > 1e-9 {
		t.Fatalf("expected immediate predicted x=%v, got %v", want, shadow.Pos.X)
	}
	if e.PendingCount() != 1 {
		t.Fatalf("expected one unacknowledged command, got %d", e.PendingCount())
	}
}

func TestReplayOfEmptyLogIsIdempotent(t *testing.T) {
	env := testEnv()
	e := New(env, DefaultBlendWindow)
	auth := localPlayer(geom.Vec2{X: 250, Y: 130})
	now := time.Unix(10, 0)

	e.Reconcile(auth, 50, now)
	for i := 0; i < 3; i++ {
		e.Reconcile(auth, 50, now.Add(time.Duration(i)*time.Millisecond))
	}

	shadow, _ := e.Shadow()
	if shadow != auth {
		t.Fatalf("repeated reconciliation drifted the shadow: %+v vs %+v", shadow, auth)
	}
	rendered, _ := e.Render(now.Add(time.Second))
	if rendered.Pos != auth.Pos {
		t.Fatalf("expected zero correction, rendered %v", rendered.Pos)
	}
}

func TestServerConfirmationProducesZeroCorrection(t *testing.T) {
	env := testEnv()
	e := New(env, DefaultBlendWindow)
	start := localPlayer(geom.Vec2{X: 100, Y: 100})
	now := time.Unix(20, 0)
	e.Reconcile(start, 99, now)

	cmd := sim.Command{ActorID: start.ID, TargetTick: 100, Move: geom.Vec2{X: 1}}
	e.Predict(cmd)
	predicted, _ := e.Shadow()

	// The server applies the identical command through the identical step.
	server := world.New()
	authEnt, err := server.Spawn(world.KindPlayer)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	server.SetShape(authEnt.ID, start.Shape)
	server.SetPosition(authEnt.ID, start.Pos)
	sim.Step(server, 100, []sim.Command{{ActorID: authEnt.ID, TargetTick: 100, Move: cmd.Move}}, env)
	confirmed, _ := server.Get(authEnt.ID)
	auth := *confirmed
	auth.ID = start.ID

	e.Reconcile(auth, 100, now.Add(66*time.Millisecond))

	if e.PendingCount() != 0 {
		t.Fatalf("confirmed command should leave the log, %d pending", e.PendingCount())
	}
	rendered, _ := e.Render(now.Add(66 * time.Millisecond))
	if rendered.Pos != predicted.Pos {
		t.Fatalf("expected zero visible correction, rendered %v predicted %v", rendered.Pos, predicted.Pos)
	}
}

func TestReconcileReplaysUnacknowledgedCommands(t *testing.T) {
	env := testEnv()
	e := New(env, 0)
	start := localPlayer(geom.Vec2{X: 100, Y: 100})
	now := time.Unix(30, 0)
	e.Reconcile(start, 99, now)

	e.Predict(sim.Command{TargetTick: 100, Move: geom.Vec2{X: 1}})
	e.Predict(sim.Command{TargetTick: 101, Move: geom.Vec2{X: 1}})

	step := env.Tuning.MoveSpeed * env.Tuning.DT()
	auth := start
	auth.Pos = geom.Vec2{X: 100 + step, Y: 100}
	auth.Vel = geom.Vec2{X: env.Tuning.MoveSpeed}
	e.Reconcile(auth, 100, now.Add(66*time.Millisecond))

	if e.PendingCount() != 1 {
		t.Fatalf("expected one command left to replay, got %d", e.PendingCount())
	}
	shadow, _ := e.Shadow()
	want := 100 + 2*step
	if math.Abs(shadow.Pos.X-want) > 1e-9 {
		t.Fatalf("expected replayed x=%v, got %v", want, shadow.Pos.X)
	}
}

func TestCorrectionBlendsInsteadOfSnapping(t *testing.T) {
	env := testEnv()
	blend := 100 * time.Millisecond
	e := New(env, blend)
	start := localPlayer(geom.Vec2{X: 100, Y: 100})
	now := time.Unix(40, 0)
	e.Reconcile(start, 99, now)

	e.Predict(sim.Command{TargetTick: 100, Move: geom.Vec2{X: 1}})
	mispredicted, _ := e.Shadow()

	// The server disagrees: the move was blocked.
	auth := start
	e.Reconcile(auth, 100, now)

	atStart, _ := e.Render(now)
	if math.Abs(atStart.Pos.X-mispredicted.Pos.X) > 1e-9 {
		t.Fatalf("correction must start from the old predicted position, got %v", atStart.Pos)
	}
	mid, _ := e.Render(now.Add(blend / 2))
	if mid.Pos.X <= auth.Pos.X || mid.Pos.X >= mispredicted.Pos.X {
		t.Fatalf("mid-blend position %v must sit between %v and %v", mid.Pos.X, auth.Pos.X, mispredicted.Pos.X)
	}
	settled, _ := e.Render(now.Add(blend))
	if settled.Pos != auth.Pos {
		t.Fatalf("expected correction to settle on the authoritative position, got %v", settled.Pos)
	}
}
