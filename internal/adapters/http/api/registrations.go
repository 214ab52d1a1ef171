package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/okian/rollcall/internal/adapters/identity"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/types"
	"github.com/okian/rollcall/pkg/logger"
)

// RegistrationHandler serves the caller's registration writes and reads.
type RegistrationHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewRegistrationHandler creates a new registration handler.
func NewRegistrationHandler(deps Dependencies, l logger.Logger) *RegistrationHandler {
	return &RegistrationHandler{deps: deps, logger: logger.OrGlobal(l, "api")}
}

// HandleRegister handles POST /v1/events/{id}/registration.
func (h *RegistrationHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register"
	reg, err := h.deps.Register(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// HandleCancel handles DELETE /v1/events/{id}/registration.
func (h *RegistrationHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	const op = "api.cancel"
	reg, err := h.deps.Cancel(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// HandleToken handles GET /v1/events/{id}/token.
func (h *RegistrationHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	const op = "api.token"
	eventID := chi.URLParam(r, "id")
	tok, err := h.deps.Token(r.Context(), identity.FromContext(r.Context()), eventID)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Token{Token: tok, EventID: eventID})
}

// HandleCheckIn handles POST /v1/checkin.
func (h *RegistrationHandler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	const op = "api.checkin"
	var req types.CheckInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, NewKind(op, model.ErrMalformedToken))
		return
	}
	reg, err := h.deps.CheckIn(r.Context(), identity.FromContext(r.Context()), req.Token)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// HandleSetLocation handles PUT /v1/me/location.
func (h *RegistrationHandler) HandleSetLocation(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_location"
	var req types.LocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("lat and lon are required")))
		return
	}
	loc, err := h.deps.SetLocation(r.Context(), identity.FromContext(r.Context()), *req.Lat, *req.Lon)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromLocation(loc))
}

// HandleGetLocation handles GET /v1/me/location.
func (h *RegistrationHandler) HandleGetLocation(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_location"
	loc, ok, err := h.deps.Location(r.Context(), identity.FromContext(r.Context()))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, types.Error{Error: "no location recorded", Kind: "location_not_found"})
		return
	}
	writeJSON(w, http.StatusOK, types.FromLocation(loc))
}

// HandleMine handles GET /v1/me/registrations.
func (h *RegistrationHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	const op = "api.my_registrations"
	regs, err := h.deps.MyRegistrations(r.Context(), identity.FromContext(r.Context()))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

func (h *RegistrationHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !model.IsBusiness(err) {
		h.logger.Error(r.Context(), "request failed", logger.String("op", op), logger.Error(err))
	}
	writeError(w, Wrap(op, err))
}
