// Package hub owns the authoritative store, the tick loop, and every
// connected client session. Network goroutines stage commands through the
// ring buffer and never touch the store directly; the single simulation
// goroutine drains the buffer, steps the world, and broadcasts per-client
// snapshots.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"riftline/server/internal/collision"
	"riftline/server/internal/geom"
	"riftline/server/internal/journal"
	"riftline/server/internal/lagcomp"
	"riftline/server/internal/net/proto"
	"riftline/server/internal/sim"
	"riftline/server/internal/snapshot"
	"riftline/server/internal/telemetry"
	"riftline/server/internal/world"
	"riftline/server/logging"
	lognetwork "riftline/server/logging/network"
	logsim "riftline/server/logging/simulation"
)

const writeWait = 5 * time.Second

const (
	clientCountMetricKey     = "hub_clients"
	fullSnapshotMetricKey    = "hub_full_snapshots_total"
	deltaSnapshotMetricKey   = "hub_delta_snapshots_total"
	retransmitMetricKey      = "hub_retransmits_total"
	timeoutDisconnectsMetric = "hub_timeout_disconnects_total"
)

// Config tunes the session layer around the fixed simulation constants.
type Config struct {
	Tuning sim.Tuning
	Bounds collision.Bounds
	// CommandBuffer is the staged-command ring capacity shared by all clients.
	CommandBuffer int
	// AckTimeout is how long a client may go without acknowledging before its
	// deltas stop and full snapshots are retransmitted instead.
	AckTimeout time.Duration
	// RetransmitEvery is the reduced cadence for those retransmitted fulls.
	RetransmitEvery time.Duration
	// DisconnectAfter is the silence threshold that terminates a session.
	DisconnectAfter time.Duration
}

// DefaultConfig returns the stock session tuning.
func DefaultConfig() Config {
	return Config{
		Tuning:          sim.DefaultTuning(),
		Bounds:          collision.Bounds{Max: geom.Vec2{X: 2400, Y: 1600}},
		CommandBuffer:   1024,
		AckTimeout:      2 * time.Second,
		RetransmitEvery: 500 * time.Millisecond,
		DisconnectAfter: 15 * time.Second,
	}
}

// spawnPoints are cycled through as players join.
var spawnPoints = []geom.Vec2{
	{X: 200, Y: 200},
	{X: 2200, Y: 200},
	{X: 200, Y: 1400},
	{X: 2200, Y: 1400},
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// clientState is the per-session bookkeeping: which entity the client drives,
// which tick it last acknowledged, and its liveness timestamps. Guarded by
// the hub mutex.
type clientState struct {
	id      string
	actorID world.EntityID
	sub     *subscriber

	baseline    world.Tick
	hasBaseline bool
	forceFull   bool

	lastAckAt        time.Time
	lastHeartbeat    time.Time
	lastRetransmitAt time.Time
	rtt              time.Duration
	stalled          bool
}

// Hub is the single owner of the authoritative world.
type Hub struct {
	cfg Config
	env sim.Env

	mu          sync.Mutex
	world       *world.World
	journal     *journal.Journal
	compensator *lagcomp.History
	clients     map[string]*clientState
	deferred    []sim.Command
	joins       uint64

	commands   *sim.CommandBuffer
	nextClient atomic.Uint64

	pub     logging.Publisher
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// New constructs a hub with an empty world.
func New(cfg Config, pub logging.Publisher, logger telemetry.Logger, metrics telemetry.Metrics) *Hub {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 1024
	}
	compensator := lagcomp.New(lagcomp.DefaultRetention)
	h := &Hub{
		cfg:         cfg,
		world:       world.New(),
		journal:     journal.New(journal.DefaultConfig()),
		compensator: compensator,
		clients:     make(map[string]*clientState),
		commands:    sim.NewCommandBuffer(cfg.CommandBuffer, metrics),
		pub:         pub,
		logger:      logger,
		metrics:     metrics,
	}
	h.env = sim.Env{
		Resolver:    collision.ClampResolver{Bounds: cfg.Bounds},
		BulletPath:  collision.PassResolver{},
		Bounds:      cfg.Bounds,
		Compensator: compensator,
		Tuning:      cfg.Tuning,
	}
	return h
}

// Tick reports the last completed simulation tick.
func (h *Hub) Tick() world.Tick {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.world.Tick()
}

// Join spawns a player entity for a new client and returns the handshake
// payload. The response carries a full snapshot; the client has no baseline
// until its first acknowledgment arrives.
func (h *Hub) Join() (proto.JoinResponse, error) {
	id := h.nextClient.Add(1)
	clientID := fmt.Sprintf("client-%d", id)
	now := time.Now()

	h.mu.Lock()
	actor, err := h.world.Spawn(world.KindPlayer)
	if err != nil {
		h.mu.Unlock()
		return proto.JoinResponse{}, fmt.Errorf("hub: join: %w", err)
	}
	half := h.cfg.Tuning.PlayerHalf
	h.world.SetShape(actor.ID, collision.Shape{HalfW: half, HalfH: half})
	h.world.SetPosition(actor.ID, spawnPoints[int(h.joins)%len(spawnPoints)])
	h.world.SetHealth(actor.ID, world.Health{
		Current: h.cfg.Tuning.PlayerMaxHealth,
		Max:     h.cfg.Tuning.PlayerMaxHealth,
	})
	color := world.ColorWhite
	if h.joins%2 == 1 {
		color = world.ColorBlack
	}
	h.world.SetColor(actor.ID, color)
	h.joins++

	h.clients[clientID] = &clientState{
		id:            clientID,
		actorID:       actor.ID,
		lastAckAt:     now,
		lastHeartbeat: now,
	}
	full := snapshot.BuildFull(h.world)
	tick := h.world.Tick()
	h.metrics.Store(clientCountMetricKey, uint64(len(h.clients)))
	h.mu.Unlock()

	lognetwork.ClientJoined(context.Background(), h.pub, uint64(tick), clientRef(clientID), map[string]any{
		"actorId": actor.ID,
		"color":   color,
	})
	return proto.NewJoinResponse(clientID, actor.ID, full, h.cfg.Tuning.TickRate), nil
}

// Subscribe attaches a WebSocket connection to a joined client. An existing
// connection for the same client is replaced.
func (h *Hub) Subscribe(clientID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.clients[clientID]
	if !ok {
		return false
	}
	if state.sub != nil {
		state.sub.conn.Close()
	}
	state.sub = &subscriber{conn: conn}
	state.lastHeartbeat = time.Now()
	state.lastAckAt = time.Now()
	return true
}

// Disconnect tears down a session: the subscriber closes, the player entity
// leaves the world, and all per-client state is discarded.
func (h *Hub) Disconnect(clientID, reason string) {
	h.disconnect(clientID, reason, nil)
}

// DisconnectConn tears the session down only while conn is still the
// client's current subscriber connection. A read loop whose connection was
// replaced by a reconnect exits without touching the live session.
func (h *Hub) DisconnectConn(clientID, reason string, conn *websocket.Conn) {
	h.disconnect(clientID, reason, conn)
}

func (h *Hub) disconnect(clientID, reason string, conn *websocket.Conn) {
	h.mu.Lock()
	state, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if conn != nil && (state.sub == nil || state.sub.conn != conn) {
		h.mu.Unlock()
		return
	}
	delete(h.clients, clientID)
	h.world.Remove(state.actorID)
	h.compensator.Forget(state.actorID)
	h.metrics.Store(clientCountMetricKey, uint64(len(h.clients)))
	tick := h.world.Tick()
	sub := state.sub
	h.mu.Unlock()

	if sub != nil {
		sub.conn.Close()
	}
	lognetwork.ClientLeft(context.Background(), h.pub, uint64(tick), clientRef(clientID),
		lognetwork.LeavePayload{Reason: reason}, nil)
}

// EnqueueCommand stages an input envelope for the tick loop. The receive time
// and the session's measured latency are stamped here, outside the replayable
// portion of the step.
func (h *Hub) EnqueueCommand(clientID string, msg proto.ClientMessage, receivedAt time.Time) bool {
	h.mu.Lock()
	state, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	actorID := state.actorID
	latency := state.rtt / 2
	h.mu.Unlock()

	cmd := msg.Command(clientID, actorID)
	cmd.ReceivedAt = receivedAt
	cmd.Latency = latency
	if !h.commands.Push(cmd) {
		h.logger.Printf("command buffer full, dropping input from %s", clientID)
		return false
	}
	return true
}

// RecordAck advances the client's delta baseline. Acknowledgments never move
// the baseline backwards; a stale ack is simply ignored.
func (h *Hub) RecordAck(clientID string, ack world.Tick, receivedAt time.Time) {
	h.mu.Lock()
	state, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	state.lastAckAt = receivedAt
	previous := state.baseline
	advanced := false
	if !state.hasBaseline || ack > state.baseline {
		state.baseline = ack
		state.hasBaseline = true
		advanced = true
	}
	tick := h.world.Tick()
	h.mu.Unlock()

	if advanced {
		lognetwork.AckAdvanced(context.Background(), h.pub, uint64(tick), clientRef(clientID),
			lognetwork.AckPayload{Previous: uint64(previous), Ack: uint64(ack)}, nil)
	}
}

// Heartbeat records session liveness and echoes the heartbeat with the
// server clock. RTT comes from serverEcho, the ServerTime of the last echo
// the client received: receive time minus that echoed timestamp is a
// round trip measured entirely on the server clock, so client clock skew
// never leaks into the lag-comp latency estimate.
func (h *Hub) Heartbeat(clientID string, clientSent, serverEcho int64, receivedAt time.Time) {
	h.mu.Lock()
	state, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	state.lastHeartbeat = receivedAt
	if serverEcho > 0 {
		echoed := time.UnixMilli(serverEcho)
		if rtt := receivedAt.Sub(echoed); rtt >= 0 && rtt < 5*time.Second {
			state.rtt = rtt
		}
	}
	sub := state.sub
	h.mu.Unlock()

	if sub == nil {
		return
	}
	data, err := json.Marshal(proto.NewHeartbeatMessage(clientSent, time.Now().UnixMilli()))
	if err != nil {
		return
	}
	if err := sub.send(data); err != nil {
		h.logger.Printf("heartbeat echo to %s failed: %v", clientID, err)
	}
}

// RequestResync forces the client's next snapshot to be a full one. Clients
// send this after rejecting a delta whose baseline they never applied.
func (h *Hub) RequestResync(clientID string) {
	h.mu.Lock()
	state, ok := h.clients[clientID]
	if ok {
		state.forceFull = true
	}
	tick := h.world.Tick()
	h.mu.Unlock()
	if ok {
		lognetwork.ResyncRequested(context.Background(), h.pub, uint64(tick), clientRef(clientID), nil)
	}
}

// RTT reports the last measured round trip for a client.
func (h *Hub) RTT(clientID string) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.clients[clientID]
	if !ok {
		return 0, false
	}
	return state.rtt, true
}

// RunSimulation drives the fixed-rate tick loop until the stop channel
// closes. Each iteration advances the world one tick and broadcasts.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	rate := h.cfg.Tuning.TickRate
	if rate <= 0 {
		rate = 15
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			timedOut := h.Advance(now)
			for _, clientID := range timedOut {
				h.Disconnect(clientID, "timeout")
			}
			h.Broadcast(now)
		}
	}
}

// Advance runs exactly one simulation tick: drain staged commands, apply the
// ones due, record the change set and position history, and report clients
// whose silence crossed the disconnect threshold.
func (h *Hub) Advance(now time.Time) (timedOut []string) {
	drained := h.commands.Drain()

	h.mu.Lock()
	tick := h.world.Tick() + 1

	// Commands staged ahead of their target tick wait; everything due or
	// late runs now, in arrival order.
	pending := append(h.deferred, drained...)
	runnable := pending[:0]
	var future []sim.Command
	for _, cmd := range pending {
		if cmd.TargetTick > tick {
			future = append(future, cmd)
			continue
		}
		runnable = append(runnable, cmd)
	}
	h.deferred = future

	fx := sim.Step(h.world, tick, runnable, h.env)
	changes := h.world.DrainChanges(tick)
	h.journal.Record(changes, now)
	h.compensator.Record(h.world, tick, now)

	for id, state := range h.clients {
		idle := now.Sub(state.lastHeartbeat)
		if ackIdle := now.Sub(state.lastAckAt); ackIdle < idle {
			idle = ackIdle
		}
		if idle > h.cfg.DisconnectAfter {
			timedOut = append(timedOut, id)
		}
	}
	h.mu.Unlock()

	if len(timedOut) > 0 {
		h.metrics.Add(timeoutDisconnectsMetric, uint64(len(timedOut)))
	}
	h.publishEffects(tick, fx)
	return timedOut
}

func (h *Hub) publishEffects(tick world.Tick, fx sim.Effects) {
	ctx := context.Background()
	for _, id := range fx.Spawned {
		logsim.EntitySpawned(ctx, h.pub, uint64(tick), entityRef(id, logging.EntityKindBullet), nil)
	}
	for _, id := range fx.Removed {
		logsim.EntityRemoved(ctx, h.pub, uint64(tick), entityRef(id, logging.EntityKindUnknown), nil)
	}
	for _, hit := range fx.Hits {
		logsim.HitLanded(ctx, h.pub, uint64(tick),
			entityRef(hit.Attacker, logging.EntityKindPlayer),
			entityRef(hit.Target, logging.EntityKindPlayer),
			logsim.HitPayload{Damage: int(hit.Damage), Killed: hit.Killed}, nil)
	}
}

// Broadcast sends every subscribed client its own snapshot: a delta against
// its acknowledged baseline, or a full snapshot when it has none, asked for a
// resync, or stopped acknowledging. Stalled clients are retransmitted to at a
// reduced cadence so a congested link is not flooded.
func (h *Hub) Broadcast(now time.Time) {
	type outbound struct {
		clientID string
		sub      *subscriber
		data     []byte
	}

	h.mu.Lock()
	tick := h.world.Tick()
	serverTime := now.UnixMilli()
	sends := make([]outbound, 0, len(h.clients))
	var newlyStalled []string
	for id, state := range h.clients {
		if state.sub == nil {
			continue
		}
		stalled := state.hasBaseline && now.Sub(state.lastAckAt) > h.cfg.AckTimeout
		if stalled && !state.stalled {
			newlyStalled = append(newlyStalled, id)
		}
		state.stalled = stalled
		if stalled {
			if now.Sub(state.lastRetransmitAt) < h.cfg.RetransmitEvery {
				continue
			}
			state.lastRetransmitAt = now
			h.metrics.Add(retransmitMetricKey, 1)
		}

		var snap snapshot.Snapshot
		if state.forceFull || stalled || !state.hasBaseline {
			snap = snapshot.BuildFull(h.world)
			state.forceFull = false
			h.metrics.Add(fullSnapshotMetricKey, 1)
		} else {
			snap = snapshot.Build(h.world, h.journal, state.baseline, true)
			if snap.Full {
				h.metrics.Add(fullSnapshotMetricKey, 1)
			} else {
				h.metrics.Add(deltaSnapshotMetricKey, 1)
			}
		}

		data, err := json.Marshal(proto.NewStateMessage(snap, serverTime))
		if err != nil {
			h.logger.Printf("failed to marshal snapshot for %s: %v", id, err)
			continue
		}
		sends = append(sends, outbound{clientID: id, sub: state.sub, data: data})
	}
	h.mu.Unlock()

	for _, id := range newlyStalled {
		lognetwork.AckStalled(context.Background(), h.pub, uint64(tick), clientRef(id), lognetwork.AckPayload{}, nil)
	}
	for _, out := range sends {
		if err := out.sub.send(out.data); err != nil {
			h.logger.Printf("failed to send snapshot to %s: %v", out.clientID, err)
			h.DisconnectConn(out.clientID, "write failure", out.sub.conn)
		}
	}
}

// SnapshotFor builds the snapshot a client would receive right now. Exposed
// for tests and diagnostics.
func (h *Hub) SnapshotFor(clientID string) (snapshot.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.clients[clientID]
	if !ok {
		return snapshot.Snapshot{}, false
	}
	if !state.hasBaseline || state.forceFull {
		return snapshot.BuildFull(h.world), true
	}
	return snapshot.Build(h.world, h.journal, state.baseline, true), true
}

// DiagnosticsSnapshot exposes per-session liveness for the diagnostics
// endpoint.
func (h *Hub) DiagnosticsSnapshot() []SessionDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions := make([]SessionDiagnostics, 0, len(h.clients))
	for _, state := range h.clients {
		sessions = append(sessions, SessionDiagnostics{
			Ver:           proto.Version,
			ClientID:      state.id,
			ActorID:       state.actorID,
			LastHeartbeat: state.lastHeartbeat.UnixMilli(),
			RTTMillis:     state.rtt.Milliseconds(),
			Baseline:      state.baseline,
			HasBaseline:   state.hasBaseline,
		})
	}
	return sessions
}

// SessionDiagnostics is the diagnostics endpoint's view of one session.
type SessionDiagnostics struct {
	Ver           int            `json:"ver"`
	ClientID      string         `json:"id"`
	ActorID       world.EntityID `json:"actorId"`
	LastHeartbeat int64          `json:"lastHeartbeat"`
	RTTMillis     int64          `json:"rttMillis"`
	Baseline      world.Tick     `json:"baseline"`
	HasBaseline   bool           `json:"hasBaseline"`
}

func clientRef(clientID string) logging.EntityRef {
	return logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient}
}

func entityRef(id world.EntityID, kind logging.EntityKind) logging.EntityRef {
	return logging.EntityRef{ID: fmt.Sprintf("%d", id), Kind: kind}
}
