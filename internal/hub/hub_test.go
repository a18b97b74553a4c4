package hub

import (
	"testing"
	"time"

	"riftline/server/internal/geom"
	"riftline/server/internal/net/proto"
	"riftline/server/internal/world"
)

func newTestHub() *Hub {
	cfg := DefaultConfig()
	cfg.AckTimeout = time.Minute
	cfg.DisconnectAfter = time.Hour
	return New(cfg, nil, nil, nil)
}

func TestJoinAlternatesTeamsAndEncodesFullSnapshot(t *testing.T) {
	h := newTestHub()

	first, err := h.Join()
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	second, err := h.Join()
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}

	if first.Ver != proto.Version || !first.Snapshot.Full {
		t.Fatalf("join must carry a versioned full snapshot: %+v", first)
	}
	if second.ActorID <= first.ActorID {
		t.Fatalf("actor IDs must be monotonic: %d then %d", first.ActorID, second.ActorID)
	}
	if len(second.Snapshot.Entities) != 2 {
		t.Fatalf("second join snapshot should carry both players, got %d", len(second.Snapshot.Entities))
	}

	colors := make(map[world.EntityID]world.Color)
	for _, es := range second.Snapshot.Entities {
		if es.Color == nil {
			t.Fatalf("player %d missing its team color", es.ID)
		}
		colors[es.ID] = *es.Color
	}
	if colors[first.ActorID] != world.ColorWhite || colors[second.ActorID] != world.ColorBlack {
		t.Fatalf("expected alternating white/black teams, got %v", colors)
	}
}

func TestAdvanceAppliesDueCommandsAndDefersFutureOnes(t *testing.T) {
	h := newTestHub()
	resp, err := h.Join()
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	now := time.Now()

	due := proto.ClientMessage{Ver: proto.Version, Type: proto.TypeInput, Tick: 1, Move: geom.Vec2{X: 1}}
	future := proto.ClientMessage{Ver: proto.Version, Type: proto.TypeInput, Tick: 3, Move: geom.Vec2{Y: 1}}
	if !h.EnqueueCommand(resp.ClientID, due, now) || !h.EnqueueCommand(resp.ClientID, future, now) {
		t.Fatalf("commands were not staged")
	}

	start := entityPos(t, h, resp.ActorID)
	h.Advance(now)
	afterOne := entityPos(t, h, resp.ActorID)
	if afterOne.X <= start.X {
		t.Fatalf("due command did not move the actor: %v -> %v", start, afterOne)
	}
	if afterOne.Y != start.Y {
		t.Fatalf("future command leaked into tick 1: %v", afterOne)
	}

	// Tick 2: the future command still waits.
	h.Advance(now.Add(66 * time.Millisecond))
	if pos := entityPos(t, h, resp.ActorID); pos.Y != start.Y {
		t.Fatalf("future command ran a tick early: %v", pos)
	}

	// Tick 3: now it is due.
	h.Advance(now.Add(132 * time.Millisecond))
	if pos := entityPos(t, h, resp.ActorID); pos.Y <= start.Y {
		t.Fatalf("deferred command never ran: %v", pos)
	}
}

func TestSnapshotForUsesAcknowledgedBaseline(t *testing.T) {
	h := newTestHub()
	resp, err := h.Join()
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	now := time.Now()

	// No acknowledgment yet: full snapshots only.
	snap, ok := h.SnapshotFor(resp.ClientID)
	if !ok || !snap.Full {
		t.Fatalf("expected a full snapshot before the first ack, got %+v", snap)
	}

	h.Advance(now)
	acked := h.Tick()
	h.RecordAck(resp.ClientID, acked, now)

	h.EnqueueCommand(resp.ClientID, proto.ClientMessage{
		Ver: proto.Version, Type: proto.TypeInput, Tick: acked + 1, Move: geom.Vec2{X: 1},
	}, now)
	h.Advance(now.Add(66 * time.Millisecond))

	snap, ok = h.SnapshotFor(resp.ClientID)
	if !ok {
		t.Fatalf("client vanished")
	}
	if snap.Full {
		t.Fatalf("expected a delta against the acked baseline")
	}
	if snap.Baseline != acked {
		t.Fatalf("delta baseline %d, want %d", snap.Baseline, acked)
	}
	if len(snap.Entities) != 1 || snap.Entities[0].ID != resp.ActorID {
		t.Fatalf("delta should carry only the moved actor: %+v", snap.Entities)
	}
	if snap.Entities[0].Health != nil || snap.Entities[0].Color != nil {
		t.Fatalf("unchanged components leaked into the delta: %+v", snap.Entities[0])
	}
}

func TestStaleAckDoesNotRegressBaseline(t *testing.T) {
	h := newTestHub()
	resp, err := h.Join()
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	now := time.Now()

	h.Advance(now)
	h.Advance(now)
	h.RecordAck(resp.ClientID, 2, now)
	h.RecordAck(resp.ClientID, 1, now)

	snap, _ := h.SnapshotFor(resp.ClientID)
	if snap.Full {
		t.Fatalf("baseline lost after stale ack")
	}
	if snap.Baseline != 2 {
		t.Fatalf("baseline regressed to %d", snap.Baseline)
	}
}

func TestResyncRequestForcesOneFullSnapshot(t *testing.T) {
	h := newTestHub()
	resp, err := h.Join()
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	now := time.Now()
	h.Advance(now)
	h.RecordAck(resp.ClientID, h.Tick(), now)

	h.RequestResync(resp.ClientID)
	snap, _ := h.SnapshotFor(resp.ClientID)
	if !snap.Full {
		t.Fatalf("resync request must force a full snapshot")
	}
}

func TestSilentClientTimesOutAndLeavesTheWorld(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisconnectAfter = 100 * time.Millisecond
	h := New(cfg, nil, nil, nil)

	quiet, err := h.Join()
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	now := time.Now()

	timedOut := h.Advance(now.Add(time.Second))
	if len(timedOut) != 1 || timedOut[0] != quiet.ClientID {
		t.Fatalf("expected %s to time out, got %v", quiet.ClientID, timedOut)
	}
	h.Disconnect(quiet.ClientID, "timeout")

	if _, ok := h.SnapshotFor(quiet.ClientID); ok {
		t.Fatalf("session state survived the disconnect")
	}
	h.mu.Lock()
	_, alive := h.world.Get(quiet.ActorID)
	h.mu.Unlock()
	if alive {
		t.Fatalf("player entity survived the disconnect")
	}
}

func TestHeartbeatMeasuresRTTOnServerClock(t *testing.T) {
	h := newTestHub()
	resp, err := h.Join()
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// The client echoes the server timestamp it last saw; the round trip is
	// receive time minus that echo, both on the server clock.
	receivedAt := time.Now()
	serverEcho := receivedAt.Add(-40 * time.Millisecond).UnixMilli()
	h.Heartbeat(resp.ClientID, 123456, serverEcho, receivedAt)

	rtt, ok := h.RTT(resp.ClientID)
	if !ok {
		t.Fatalf("client vanished")
	}
	if rtt < 39*time.Millisecond || rtt > 41*time.Millisecond {
		t.Fatalf("expected ~40ms RTT, got %v", rtt)
	}
}

func TestHeartbeatIgnoresClientClockForRTT(t *testing.T) {
	h := newTestHub()
	resp, err := h.Join()
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// A client clock running far ahead must not poison the estimate: with no
	// server echo yet there is nothing to measure against.
	receivedAt := time.Now()
	skewedClientSent := receivedAt.Add(2 * time.Second).UnixMilli()
	h.Heartbeat(resp.ClientID, skewedClientSent, 0, receivedAt)

	if rtt, _ := h.RTT(resp.ClientID); rtt != 0 {
		t.Fatalf("client timestamp leaked into the RTT estimate: %v", rtt)
	}
}

func entityPos(t *testing.T, h *Hub, id world.EntityID) geom.Vec2 {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.world.Get(id)
	if !ok {
		t.Fatalf("entity %d missing", id)
	}
	return e.Pos
}
