package network

import (
	"context"

	"riftline/server/logging"
)

const (
	// EventClientJoined is emitted when a client completes the join handshake.
	EventClientJoined logging.EventType = "network.client_joined"
	// EventClientLeft is emitted when a client disconnects or is dropped.
	EventClientLeft logging.EventType = "network.client_left"
	// EventAckAdvanced is emitted when a client acknowledges a newer tick.
	EventAckAdvanced logging.EventType = "network.ack_advanced"
	// EventAckStalled is emitted when a client has not acknowledged within the resync window.
	EventAckStalled logging.EventType = "network.ack_stalled"
	// EventResyncRequested is emitted when a client explicitly asks for a full snapshot.
	EventResyncRequested logging.EventType = "network.resync_requested"
)

// AckPayload captures acknowledgement progression details.
type AckPayload struct {
	Previous uint64 `json:"previous"`
	Ack      uint64 `json:"ack"`
}

// LeavePayload captures why a client left.
type LeavePayload struct {
	Reason string `json:"reason"`
}

// ClientJoined publishes an info event when a client joins.
func ClientJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClientJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Extra:    extra,
	})
}

// ClientLeft publishes an info event when a client leaves.
func ClientLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload LeavePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClientLeft,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// AckAdvanced publishes a debug event when a client acknowledgement advances.
func AckAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAckAdvanced,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// AckStalled publishes a warning event when a client stops acknowledging.
func AckStalled(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAckStalled,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// ResyncRequested publishes an info event when a client requests a full snapshot.
func ResyncRequested(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventResyncRequested,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Extra:    extra,
	})
}
