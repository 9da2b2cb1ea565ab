package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/fanrelay/internal/relay"
)

type GroupHandler struct {
	relay *relay.Manager
}

func NewGroupHandler(m *relay.Manager) *GroupHandler {
	return &GroupHandler{relay: m}
}

type createGroupRequest struct {
	ID          string `json:"group_id"`
	DisplayName string `json:"display_name"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	_, msg, err := h.relay.CreateGroup(req.ID, req.DisplayName)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, result{Success: true, Message: msg})
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g.Stats())
}

type renameGroupRequest struct {
	DisplayName string `json:"display_name"`
}

func (h *GroupHandler) Rename(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req renameGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := g.Rename(req.DisplayName)
	writeResult(w, msg, err)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	msg, err := h.relay.DeleteGroup(chi.URLParam(r, "id"))
	writeResult(w, msg, err)
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (h *GroupHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req setModeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := g.SetMode(req.Mode)
	writeResult(w, msg, err)
}

func (h *GroupHandler) History(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g.History(queryInt(r, "limit", 0)))
}

func (h *GroupHandler) Dispatches(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	records, err := h.relay.Dispatches(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *GroupHandler) PruneSchedules(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	msg, err := g.PruneExpiredWindows()
	writeResult(w, msg, err)
}

func (h *GroupHandler) lookup(w http.ResponseWriter, r *http.Request) (*relay.Group, bool) {
	g, err := h.relay.Group(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return g, true
}

// queryInt falls back to def for a missing or malformed parameter.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
