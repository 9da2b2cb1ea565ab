package api

import (
	"net/http"
	"strings"

	"github.com/shohag/fanrelay/internal/models"
	"github.com/shohag/fanrelay/internal/relay"
)

type StatsHandler struct {
	relay        *relay.Manager
	version      string
	snapshotPath string
}

func NewStatsHandler(m *relay.Manager, version, snapshotPath string) *StatsHandler {
	return &StatsHandler{relay: m, version: version, snapshotPath: snapshotPath}
}

type healthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Groups       int    `json:"groups"`
	SnapshotPath string `json:"snapshot_path"`
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Version:      h.version,
		Groups:       len(h.relay.Groups()),
		SnapshotPath: h.snapshotPath,
	})
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.relay.Stats())
}

func (h *StatsHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.relay.Credentials())
}

func (h *StatsHandler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var req models.Credentials
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.relay.UpdateCredentials(models.Credentials{
		AppID:     strings.TrimSpace(req.AppID),
		AppSecret: strings.TrimSpace(req.AppSecret),
	})
	writeResult(w, msg, err)
}

func (h *StatsHandler) Save(w http.ResponseWriter, r *http.Request) {
	msg, err := h.relay.SaveNow(r.Context())
	writeResult(w, msg, err)
}
