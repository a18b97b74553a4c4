// Package ws runs the per-connection read loop. All writes to a connection
// go through the hub's subscriber lock, so this loop only ever reads.
package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"riftline/server/internal/hub"
	"riftline/server/internal/net/proto"
	"riftline/server/internal/telemetry"
)

const (
	malformedMetricKey = "ws_malformed_messages_total"
	inputMetricKey     = "ws_input_messages_total"
)

// Handler dispatches inbound client envelopes onto the hub.
type Handler struct {
	hub     *hub.Hub
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// NewHandler wires the read loop to a hub.
func NewHandler(h *hub.Hub, logger telemetry.Logger, metrics telemetry.Metrics) *Handler {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Handler{hub: h, logger: logger, metrics: metrics}
}

// Serve reads envelopes until the connection drops, then tears the session
// down. Malformed or unversioned messages are discarded without feedback; a
// broken codec on the other end must not be able to kill the session. The
// teardown is bound to this loop's connection: when a reconnect has already
// replaced it, the superseded loop exits without touching the session.
func (h *Handler) Serve(clientID string, conn *websocket.Conn) {
	defer h.hub.DisconnectConn(clientID, "read loop closed", conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		receivedAt := time.Now()

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.metrics.Add(malformedMetricKey, 1)
			h.logger.Printf("discarding malformed message from %s: %v", clientID, err)
			continue
		}

		switch msg.Type {
		case proto.TypeInput:
			h.metrics.Add(inputMetricKey, 1)
			h.hub.EnqueueCommand(clientID, msg, receivedAt)
		case proto.TypeAck:
			h.hub.RecordAck(clientID, msg.Ack, receivedAt)
		case proto.TypeHeartbeat:
			h.hub.Heartbeat(clientID, msg.ClientSent, msg.ServerEcho, receivedAt)
		case proto.TypeResync:
			h.hub.RequestResync(clientID)
		}
	}
}
