package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/okian/rollcall/internal/adapters/identity"
	"github.com/okian/rollcall/internal/domain/types"
)

// EventsHandler serves catalog reads.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type rankedResponse struct {
	Events   []types.RankedEvent `json:"events"`
	RadiusKm float64             `json:"radius_km,omitempty"`
}

// HandleList handles GET /v1/events?category=.
func (h *EventsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	ranked := h.deps.RankedEvents(r.Context(), id, r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, rankedResponse{Events: types.FromRanked(ranked)})
}

// HandleNearby handles GET /v1/events/nearby?category=.
func (h *EventsHandler) HandleNearby(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	nearby := h.deps.NearbyEvents(r.Context(), id, r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, rankedResponse{Events: types.FromRanked(nearby), RadiusKm: h.deps.RadiusKm()})
}

// HandleGet handles GET /v1/events/{id}.
func (h *EventsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_event"
	ev, err := h.deps.Event(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// HandleCount handles GET /v1/events/{id}/count.
func (h *EventsHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	const op = "api.count"
	eventID := chi.URLParam(r, "id")
	n, err := h.deps.Count(r.Context(), eventID)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.Count{EventID: eventID, Registered: n})
}
