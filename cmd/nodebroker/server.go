package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fedmesh/nodebroker/internal/relay"
	"github.com/fedmesh/nodebroker/messaging"
)

// sendRequest is the body accepted by the send endpoints. Recipients are hub
// node ids and only apply to direct sends.
type sendRequest struct {
	Recipients []string        `json:"recipients,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// newSendServer exposes the outbound message API on a local listener. This
// is the process-level entry point for co-located services; it does not
// serve subscription management.
func newSendServer(addr string, svc *messaging.Service, conn *relay.Connection, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		state := conn.CurrentState()
		status := http.StatusOK
		if state != relay.StateConnected {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"relay": state.String()})
	})

	mux.HandleFunc("POST /analyses/{analysisID}/broadcast", func(w http.ResponseWriter, r *http.Request) {
		analysisID := r.PathValue("analysisID")
		req, ok := decodeSendRequest(w, r)
		if !ok {
			return
		}
		if err := svc.Broadcast(r.Context(), analysisID, req.Payload); err != nil {
			logger.Error("broadcast failed", "analysis_id", analysisID, "error", err)
			http.Error(w, "broadcast failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /analyses/{analysisID}/messages", func(w http.ResponseWriter, r *http.Request) {
		analysisID := r.PathValue("analysisID")
		req, ok := decodeSendRequest(w, r)
		if !ok {
			return
		}
		if len(req.Recipients) == 0 {
			http.Error(w, "recipients required", http.StatusBadRequest)
			return
		}
		err := svc.Send(r.Context(), analysisID, req.Recipients, req.Payload)
		if errors.Is(err, messaging.ErrUnknownRecipient) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if err != nil {
			logger.Error("send failed", "analysis_id", analysisID, "error", err)
			http.Error(w, "send failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func decodeSendRequest(w http.ResponseWriter, r *http.Request) (sendRequest, bool) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return sendRequest{}, false
	}
	if len(req.Payload) == 0 {
		http.Error(w, "payload required", http.StatusBadRequest)
		return sendRequest{}, false
	}
	return req, true
}

func shutdownServer(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("send api shutdown", "error", err)
	}
}
