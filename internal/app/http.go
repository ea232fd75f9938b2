package app

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chimebot/chime/internal/observe"
)

// maxFrameRequestBytes bounds the frame-ingress request body. Slightly
// above the session's own frame cap so oversize frames are rejected
// with a reason instead of a truncated read.
const maxFrameRequestBytes = 4 << 20

// routes builds the HTTP mux: Prometheus metrics, a liveness probe,
// and the stream-frame ingress endpoint.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("POST /v1/frames", a.handleFrameIngress)
	return mux
}

// frameRequest is one screen-share frame pushed by the stream bridge.
type frameRequest struct {
	// GuildID selects the session the frame belongs to.
	GuildID string `json:"guild_id"`

	// UserID is the platform id of the streamer the frame belongs to.
	UserID string `json:"user_id"`

	// MimeType is the frame's image MIME type (e.g. "image/jpeg").
	MimeType string `json:"mime_type"`

	// Frame is the base64-encoded image payload.
	Frame string `json:"frame"`
}

// frameResponse reports whether the frame was accepted.
type frameResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func (a *App) handleFrameIngress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req frameRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid frame request", http.StatusBadRequest)
		return
	}
	if req.GuildID == "" || req.UserID == "" || req.MimeType == "" || req.Frame == "" {
		http.Error(w, "guild_id, user_id, mime_type and frame are required", http.StatusBadRequest)
		return
	}

	sess, ok := a.registry.Lookup(req.GuildID)
	if !ok {
		writeJSON(ctx, w, http.StatusNotFound, frameResponse{Accepted: false, Reason: "no_active_session"})
		return
	}

	accepted, reason := sess.IngestFrame(ctx, req.UserID, req.MimeType, req.Frame)
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(ctx, w, status, frameResponse{Accepted: accepted, Reason: reason})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(ctx).Warn("write response", "err", err)
	}
}
