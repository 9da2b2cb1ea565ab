package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/fanrelay/internal/models"
	"github.com/shohag/fanrelay/internal/relay"
)

type EndpointHandler struct {
	relay  *relay.Manager
	groups *GroupHandler
}

func NewEndpointHandler(m *relay.Manager, groups *GroupHandler) *EndpointHandler {
	return &EndpointHandler{relay: m, groups: groups}
}

// createEndpointRequest accepts the kind under either key.
type createEndpointRequest struct {
	URL         string      `json:"url"`
	Name        string      `json:"name"`
	Kind        models.Kind `json:"type"`
	WebhookType models.Kind `json:"webhook_type"`
	Fixed       bool        `json:"is_fixed"`
}

type createEndpointResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Endpoint models.Endpoint `json:"webhook"`
}

func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	g, ok := h.groups.lookup(w, r)
	if !ok {
		return
	}
	var req createEndpointRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = req.WebhookType
	}
	ep, msg, err := g.AddEndpoint(relay.EndpointInput{URL: req.URL, Name: req.Name, Kind: kind, Fixed: req.Fixed})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createEndpointResponse{Success: true, Message: msg, Endpoint: ep})
}

type renameEndpointRequest struct {
	Name string `json:"name"`
}

func (h *EndpointHandler) Rename(w http.ResponseWriter, r *http.Request) {
	g, ok := h.groups.lookup(w, r)
	if !ok {
		return
	}
	var req renameEndpointRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := g.RenameEndpoint(chi.URLParam(r, "eid"), req.Name)
	writeResult(w, msg, err)
}

func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	g, ok := h.groups.lookup(w, r)
	if !ok {
		return
	}
	msg, err := g.RemoveEndpoint(chi.URLParam(r, "eid"))
	writeResult(w, msg, err)
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetEnabled treats a missing flag as true.
func (h *EndpointHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	g, ok := h.groups.lookup(w, r)
	if !ok {
		return
	}
	var req setEnabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	enabled := req.Enabled == nil || *req.Enabled
	msg, err := g.SetEndpointEnabled(chi.URLParam(r, "eid"), enabled)
	writeResult(w, msg, err)
}

type setFixedRequest struct {
	Fixed bool `json:"is_fixed"`
}

func (h *EndpointHandler) SetFixed(w http.ResponseWriter, r *http.Request) {
	g, ok := h.groups.lookup(w, r)
	if !ok {
		return
	}
	var req setFixedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := g.SetEndpointFixed(chi.URLParam(r, "eid"), req.Fixed)
	writeResult(w, msg, err)
}

type setScheduleRequest struct {
	Mode    string                  `json:"schedule_mode"`
	Windows []models.ScheduleWindow `json:"schedules"`
}

func (h *EndpointHandler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	g, ok := h.groups.lookup(w, r)
	if !ok {
		return
	}
	var req setScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode, err := models.ParseScheduleMode(req.Mode)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	msg, err := g.SetEndpointSchedule(chi.URLParam(r, "eid"), mode, req.Windows)
	writeResult(w, msg, err)
}

type testEndpointRequest struct {
	Content string `json:"content"`
}

// Test sends a probe message. A failed send is reported in the body with a
// 200 status; only lookup failures produce an error status.
func (h *EndpointHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req testEndpointRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	ok, msg, err := h.relay.TestEndpoint(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "eid"), req.Content)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result{Success: ok, Message: msg})
}
