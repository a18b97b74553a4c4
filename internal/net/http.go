// Package net exposes the server's HTTP surface: the join handshake, the
// WebSocket upgrade, the wire-contract schema, and diagnostics.
package net

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"riftline/server/internal/hub"
	"riftline/server/internal/net/proto"
	"riftline/server/internal/net/ws"
	"riftline/server/internal/telemetry"
	"riftline/server/logging"
)

// NewMux builds the HTTP routing table around a hub.
func NewMux(h *hub.Hub, logger telemetry.Logger, metrics *logging.Metrics) *http.ServeMux {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	handler := ws.NewHandler(h, logger, telemetry.WrapMetrics(metrics))
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp, err := h.Join()
		if err != nil {
			logger.Printf("join failed: %v", err)
			http.Error(w, "join failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, resp, logger)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("id")
		if clientID == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("upgrade failed for %s: %v", clientID, err)
			return
		}
		if !h.Subscribe(clientID, conn) {
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown client")
			conn.WriteMessage(websocket.CloseMessage, message)
			conn.Close()
			return
		}
		go handler.Serve(clientID, conn)
	})

	mux.HandleFunc("/schema", func(w http.ResponseWriter, r *http.Request) {
		doc, err := proto.WireSchema()
		if err != nil {
			logger.Printf("schema generation failed: %v", err)
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		counters, gauges := metrics.Snapshot()
		payload := struct {
			Status     string                   `json:"status"`
			ServerTime int64                    `json:"serverTime"`
			Tick       uint64                   `json:"tick"`
			Sessions   []hub.SessionDiagnostics `json:"sessions"`
			Counters   map[string]uint64        `json:"counters,omitempty"`
			Gauges     map[string]uint64        `json:"gauges,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Tick:       uint64(h.Tick()),
			Sessions:   h.DiagnosticsSnapshot(),
			Counters:   counters,
			Gauges:     gauges,
		}
		writeJSON(w, payload, logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, payload any, logger telemetry.Logger) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
