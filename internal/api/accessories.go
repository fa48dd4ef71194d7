package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sonoff-bridge/internal/accessory"
	"github.com/nerrad567/sonoff-bridge/internal/device"
)

// AccessoryResponse is an accessory record plus the live view of its
// controller. Controller fields are absent while no controller is bound.
type AccessoryResponse struct {
	accessory.Accessory
	Bound     bool          `json:"bound"`
	On        *bool         `json:"on,omitempty"`
	Reachable *bool         `json:"reachable,omitempty"`
	Address   string        `json:"address,omitempty"`
	State     *device.State `json:"state,omitempty"`
}

// OnRequest is the body of PUT /accessories/{uuid}/on.
type OnRequest struct {
	On *bool `json:"on"`
}

// OnResponse reports a power value.
type OnResponse struct {
	UUID string `json:"uuid"`
	On   bool   `json:"on"`
}

func (s *Server) describe(a accessory.Accessory) AccessoryResponse {
	resp := AccessoryResponse{Accessory: a}
	ctrl, ok := s.controllers.Controller(a.UUID)
	if !ok {
		return resp
	}

	state := ctrl.State()
	on := ctrl.HandleGet()
	reachable := ctrl.Reachable()
	resp.Bound = true
	resp.On = &on
	resp.Reachable = &reachable
	resp.Address = ctrl.Address()
	resp.State = &state
	return resp
}

// handleListAccessories returns every published accessory.
func (s *Server) handleListAccessories(w http.ResponseWriter, _ *http.Request) {
	list := s.registry.List()
	out := make([]AccessoryResponse, 0, len(list))
	for _, a := range list {
		out = append(out, s.describe(a))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessories": out,
		"count":       len(out),
	})
}

// handleGetAccessory returns one accessory with its controller view.
func (s *Server) handleGetAccessory(w http.ResponseWriter, r *http.Request) {
	a, err := s.registry.Get(chi.URLParam(r, "uuid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(a))
}

// handleGetOn returns the cached power state. It never contacts the device.
func (s *Server) handleGetOn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	on, err := s.registry.GetOn(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OnResponse{UUID: id, On: on})
}

// handleSetOn sends a switch command and waits for the device's answer.
// A 200 means the device accepted the command; the cached state follows on
// the next poll.
func (s *Server) handleSetOn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	var req OnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, "on field is required")
		return
	}

	if err := s.registry.SetOn(r.Context(), id, *req.On); err != nil {
		s.logger.Warn("set on failed", "uuid", id, "on", *req.On, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OnResponse{UUID: id, On: *req.On})
}

// handleRefresh polls the device now and returns the updated view.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a, err := s.registry.Get(chi.URLParam(r, "uuid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctrl, ok := s.controllers.Controller(a.UUID)
	if !ok {
		writeDomainError(w, accessory.ErrNoHandler)
		return
	}
	if err := ctrl.Refresh(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(a))
}
