package sim

import (
	"time"

	"riftline/server/internal/geom"
	"riftline/server/internal/world"
)

// ActionFlags is the bitset of one-shot actions carried by a command.
type ActionFlags uint8

const (
	// ActionFire triggers a hitscan shot along the actor's facing.
	ActionFire ActionFlags = 1 << iota
)

// Command is a player intent bound to a target tick. Commands are consumed by
// exactly one authoritative step; the prediction engine replays value copies,
// never the original.
type Command struct {
	// ClientID identifies the connection that issued the command.
	ClientID string
	// ActorID is the entity the command steers.
	ActorID world.EntityID
	// TargetTick is the tick the client scheduled the command for. Commands
	// arriving after their target tick run on the next available tick.
	TargetTick world.Tick
	// ClientSent is the client clock in unix milliseconds when the command
	// left the client, echoed for RTT measurement.
	ClientSent int64
	// Move is the raw movement intent. It is normalized before integration.
	Move geom.Vec2
	// Flags carries the one-shot actions for this command.
	Flags ActionFlags

	// ReceivedAt and Latency are stamped by the server intake and feed lag
	// compensation. They are ignored by the replayed movement path.
	ReceivedAt time.Time
	Latency    time.Duration
}
