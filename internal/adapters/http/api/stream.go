package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/rollcall/internal/adapters/identity"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

// StreamHandler pushes the caller's registrations as server-sent events.
type StreamHandler struct {
	deps      Dependencies
	heartbeat time.Duration
	logger    logger.Logger
	base      context.Context // ends open streams when done
}

// NewStreamHandler creates a stream handler sending a comment line every
// heartbeat while idle.
func NewStreamHandler(deps Dependencies, heartbeat time.Duration, l logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{deps: deps, heartbeat: heartbeat, logger: logger.OrGlobal(l, "api"), base: context.Background()}
}

// HandleStream handles GET /v1/me/registrations/stream. Each change is sent
// as a "registrations" event whose data is the full list, newest first.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	const op = "api.stream"
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, NewKind(op, ErrStream))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	updates, err := h.deps.Subscribe(ctx, identity.FromContext(ctx))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for range updates {
			}
			return
		case regs, ok := <-updates:
			if !ok {
				return
			}
			if regs == nil {
				regs = []model.Registration{}
			}
			data, err := json.Marshal(regs)
			if err != nil {
				h.logger.Error(ctx, "encoding registrations", logger.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: registrations\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
