// Package proto defines the versioned JSON envelopes exchanged between the
// server and its clients.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"riftline/server/internal/geom"
	"riftline/server/internal/sim"
	"riftline/server/internal/snapshot"
	"riftline/server/internal/world"
)

// Version is bumped whenever an envelope changes incompatibly. Messages
// carrying any other version are rejected.
const Version = 1

const (
	TypeState     = "state"
	TypeJoin      = "join"
	TypeInput     = "input"
	TypeAck       = "ack"
	TypeHeartbeat = "heartbeat"
	TypeResync    = "resync_request"
)

var (
	ErrVersionMismatch = errors.New("proto: version mismatch")
	ErrUnknownType     = errors.New("proto: unknown message type")
)

// JoinResponse seeds a new client with its identity and the first full
// snapshot.
type JoinResponse struct {
	Ver      int               `json:"ver"`
	Type     string            `json:"type"`
	ClientID string            `json:"id"`
	ActorID  world.EntityID    `json:"actorId"`
	Snapshot snapshot.Snapshot `json:"snapshot"`
	TickRate int               `json:"tickRate"`
}

// StateMessage carries one snapshot, full or delta, plus the server clock.
type StateMessage struct {
	Ver        int               `json:"ver"`
	Type       string            `json:"type"`
	Snapshot   snapshot.Snapshot `json:"snapshot"`
	ServerTime int64             `json:"serverTime"`
}

// HeartbeatMessage is echoed back to the client so it can measure RTT.
type HeartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ClientSent int64  `json:"clientSent"`
	ServerTime int64  `json:"serverTime"`
}

// ClientMessage is the single envelope clients send. Type selects which of
// the optional fields are meaningful. Heartbeats carry two timestamps:
// ClientSent is the client clock (echoed back untouched), ServerEcho is the
// ServerTime of the last heartbeat echo the client received, returned so the
// server can measure the round trip on its own clock.
type ClientMessage struct {
	Ver        int        `json:"ver"`
	Type       string     `json:"type"`
	Tick       world.Tick `json:"t,omitempty"`
	Ack        world.Tick `json:"ack,omitempty"`
	Move       geom.Vec2  `json:"move,omitzero"`
	Fire       bool       `json:"fire,omitempty"`
	ClientSent int64      `json:"clientSent,omitempty"`
	ServerEcho int64      `json:"serverEcho,omitempty"`
}

// NewStateMessage wraps a built snapshot in the outbound envelope.
func NewStateMessage(snap snapshot.Snapshot, serverTime int64) StateMessage {
	return StateMessage{Ver: Version, Type: TypeState, Snapshot: snap, ServerTime: serverTime}
}

// NewJoinResponse wraps the join handshake payload.
func NewJoinResponse(clientID string, actorID world.EntityID, snap snapshot.Snapshot, tickRate int) JoinResponse {
	return JoinResponse{Ver: Version, Type: TypeJoin, ClientID: clientID, ActorID: actorID, Snapshot: snap, TickRate: tickRate}
}

// NewHeartbeatMessage echoes the client timestamp with the server clock.
func NewHeartbeatMessage(clientSent, serverTime int64) HeartbeatMessage {
	return HeartbeatMessage{Ver: Version, Type: TypeHeartbeat, ClientSent: clientSent, ServerTime: serverTime}
}

// DecodeClientMessage parses and validates one inbound envelope.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("proto: decode client message: %w", err)
	}
	if msg.Ver != Version {
		return ClientMessage{}, fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, msg.Ver, Version)
	}
	switch msg.Type {
	case TypeInput, TypeAck, TypeHeartbeat, TypeResync:
		return msg, nil
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// Command converts an input envelope into a simulation command for the given
// actor. Intake stamps receive time and latency separately.
func (m ClientMessage) Command(clientID string, actorID world.EntityID) sim.Command {
	cmd := sim.Command{
		ClientID:   clientID,
		ActorID:    actorID,
		TargetTick: m.Tick,
		ClientSent: m.ClientSent,
		Move:       m.Move,
	}
	if m.Fire {
		cmd.Flags |= sim.ActionFire
	}
	return cmd
}
