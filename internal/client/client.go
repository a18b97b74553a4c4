// Package client wires the replica store, the snapshot applier, the
// interpolation buffer, and the prediction engine into one object. The mutex
// enforces the single-writer rule: prediction replay and snapshot application
// both mutate the same replica, so they are never allowed to interleave.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"riftline/server/internal/collision"
	"riftline/server/internal/geom"
	"riftline/server/internal/interp"
	"riftline/server/internal/net/proto"
	"riftline/server/internal/predict"
	"riftline/server/internal/sim"
	"riftline/server/internal/snapshot"
	"riftline/server/internal/telemetry"
	"riftline/server/internal/world"
)

// Config tunes the client-side pipeline. Tuning and Bounds must match the
// server values or prediction diverges on every input.
type Config struct {
	Tuning      sim.Tuning
	Bounds      collision.Bounds
	Interp      interp.Config
	BlendWindow time.Duration
}

// DefaultConfig mirrors the server defaults.
func DefaultConfig() Config {
	return Config{
		Tuning:      sim.DefaultTuning(),
		Bounds:      collision.Bounds{Max: geom.Vec2{X: 2400, Y: 1600}},
		Interp:      interp.DefaultConfig(),
		BlendWindow: predict.DefaultBlendWindow,
	}
}

// Client is the local end of the synchronization pipeline.
type Client struct {
	mu sync.Mutex

	clientID string
	localID  world.EntityID
	joined   bool

	replica *world.World
	applier *snapshot.Applier
	buffer  *interp.Buffer
	engine  *predict.Engine

	resyncNeeded bool
	logger       telemetry.Logger
}

// New constructs an unjoined client.
func New(cfg Config, logger telemetry.Logger) *Client {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	env := sim.Env{
		Resolver:   collision.ClampResolver{Bounds: cfg.Bounds},
		BulletPath: collision.PassResolver{},
		Bounds:     cfg.Bounds,
		Tuning:     cfg.Tuning,
	}
	return &Client{
		replica: world.NewReplica(),
		applier: snapshot.NewApplier(),
		buffer:  interp.NewBuffer(cfg.Interp),
		engine:  predict.New(env, cfg.BlendWindow),
		logger:  logger,
	}
}

// HandleJoin installs the handshake payload: identity, the first full
// snapshot, and the prediction seed for the local entity.
func (c *Client) HandleJoin(resp proto.JoinResponse, receivedAt time.Time) error {
	if !resp.Snapshot.Full {
		return errors.New("client: join snapshot must be full")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = resp.ClientID
	c.localID = resp.ActorID
	c.joined = true
	if err := c.applier.Apply(c.replica, resp.Snapshot); err != nil {
		return fmt.Errorf("client: apply join snapshot: %w", err)
	}
	c.buffer.Push(c.replica, receivedAt)
	c.reconcileLocalLocked(resp.Snapshot.Tick, receivedAt)
	return nil
}

// HandleSnapshot merges one state message into the replica and returns the
// tick to acknowledge. A delta whose baseline this client never applied is
// dropped without mutating anything; the caller must send a resync request
// and keep rendering from the buffered history.
func (c *Client) HandleSnapshot(snap snapshot.Snapshot, receivedAt time.Time) (world.Tick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.applier.Apply(c.replica, snap); err != nil {
		if errors.Is(err, snapshot.ErrUnknownBaseline) {
			c.resyncNeeded = true
			c.logger.Printf("dropped delta with unknown baseline %d, requesting resync", snap.Baseline)
		}
		return 0, err
	}
	c.resyncNeeded = false
	c.buffer.Push(c.replica, receivedAt)
	c.reconcileLocalLocked(snap.Tick, receivedAt)
	return snap.Tick, nil
}

// reconcileLocalLocked feeds the authoritative local entity into the
// prediction engine. Caller holds c.mu.
func (c *Client) reconcileLocalLocked(tick world.Tick, now time.Time) {
	if !c.joined {
		return
	}
	if auth, ok := c.replica.Get(c.localID); ok {
		c.engine.Reconcile(*auth, tick, now)
	}
}

// HandleInput predicts one movement/fire intent immediately and returns the
// command to send to the server. The target tick runs ahead of the last
// authoritative tick by the number of in-flight commands.
func (c *Client) HandleInput(move geom.Vec2, fire bool, now time.Time) (sim.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return sim.Command{}, false
	}
	base, ok := c.applier.LatestTick()
	if !ok {
		return sim.Command{}, false
	}
	cmd := sim.Command{
		ClientID:   c.clientID,
		ActorID:    c.localID,
		TargetTick: base + world.Tick(c.engine.PendingCount()) + 1,
		ClientSent: now.UnixMilli(),
		Move:       move,
	}
	if fire {
		cmd.Flags |= sim.ActionFire
	}
	c.engine.Predict(cmd)
	return cmd, true
}

// Render returns the frame to draw: remote entities sampled from the delayed
// interpolation buffer, and the local entity from the prediction engine.
func (c *Client) Render(now time.Time) []interp.RenderEntity {
	c.mu.Lock()
	defer c.mu.Unlock()
	sampled := c.buffer.Sample()
	out := make([]interp.RenderEntity, 0, len(sampled)+1)
	for _, e := range sampled {
		if c.joined && e.ID == c.localID {
			continue
		}
		out = append(out, e)
	}
	if local, ok := c.engine.Render(now); ok {
		out = append(out, interp.RenderEntity{
			ID:          local.ID,
			Kind:        local.Kind,
			Pos:         local.Pos,
			Orientation: local.Orientation,
			Shape:       local.Shape,
			Health:      local.Health,
			Color:       local.Color,
		})
	}
	return out
}

// ConsumeResyncRequest reports whether a resync should be requested and
// clears the flag, so one rejected delta produces one request.
func (c *Client) ConsumeResyncRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	needed := c.resyncNeeded
	c.resyncNeeded = false
	return needed
}

// LocalID returns the entity the server assigned this client.
func (c *Client) LocalID() (world.EntityID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID, c.joined
}

// LatestTick reports the most recent authoritative tick applied.
func (c *Client) LatestTick() (world.Tick, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applier.LatestTick()
}

// PendingCommands reports the size of the unacknowledged command log.
func (c *Client) PendingCommands() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.PendingCount()
}
