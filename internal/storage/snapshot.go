package storage

import (
	"strings"
	"time"

	"github.com/shohag/fanrelay/internal/models"
)

const SnapshotVersion = "5"

// timeLayout is the timestamp format in snapshot files. Older files carry
// the same layout, so parsing also accepts RFC 3339 for hand-edited ones.
const timeLayout = "2006-01-02 15:04:05"

// Snapshot is the durable form of the whole configuration. It is rebuilt in
// full for every save.
type Snapshot struct {
	Version     string                 `json:"version"`
	UpdatedAt   string                 `json:"updated_at"`
	Credentials models.Credentials     `json:"feishu_credentials"`
	Groups      map[string]GroupRecord `json:"groups"`
}

type GroupRecord struct {
	DisplayName string           `json:"display_name"`
	Mode        string           `json:"send_mode"`
	Cursor      int              `json:"current_index"`
	Endpoints   []EndpointRecord `json:"webhooks"`
}

// EndpointRecord is decoded from either schedule shape. The multi-window
// form uses schedule_mode + schedules; the legacy single-window form uses
// schedule_enabled + schedule_start + schedule_end. Legacy fields are only
// ever read, never written.
type EndpointRecord struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	URL          string                  `json:"url"`
	Type         string                  `json:"type"`
	Enabled      *bool                   `json:"enabled,omitempty"`
	Fixed        bool                    `json:"is_fixed"`
	ScheduleMode string                  `json:"schedule_mode,omitempty"`
	Schedules    []models.ScheduleWindow `json:"schedules"`
	Stats        models.Counters         `json:"stats"`
	CreatedAt    string                  `json:"created_at,omitempty"`

	LegacyScheduleEnabled *bool  `json:"schedule_enabled,omitempty"`
	LegacyScheduleStart   string `json:"schedule_start,omitempty"`
	LegacyScheduleEnd     string `json:"schedule_end,omitempty"`
}

func NewSnapshot(now time.Time, creds models.Credentials) *Snapshot {
	return &Snapshot{
		Version:     SnapshotVersion,
		UpdatedAt:   now.Format(timeLayout),
		Credentials: creds,
		Groups:      map[string]GroupRecord{},
	}
}

func RecordFromEndpoint(ep models.Endpoint) EndpointRecord {
	enabled := ep.Enabled
	windows := append([]models.ScheduleWindow{}, ep.Windows...)
	return EndpointRecord{
		ID:           ep.ID,
		Name:         ep.Name,
		URL:          ep.URL,
		Type:         string(ep.Kind),
		Enabled:      &enabled,
		Fixed:        ep.Fixed,
		ScheduleMode: string(ep.ScheduleMode),
		Schedules:    windows,
		Stats:        ep.Stats,
		CreatedAt:    ep.CreatedAt.Format(timeLayout),
	}
}

// Endpoint converts the record into the in-memory model, migrating a legacy
// single-window schedule into one window dated today. now supplies both
// "today" and the zone stored timestamps are read in.
func (r EndpointRecord) Endpoint(now time.Time) models.Endpoint {
	ep := models.Endpoint{
		ID:           r.ID,
		Name:         strings.TrimSpace(r.Name),
		URL:          strings.TrimSpace(r.URL),
		Kind:         models.Kind(strings.ToLower(r.Type)),
		Enabled:      r.Enabled == nil || *r.Enabled,
		Fixed:        r.Fixed,
		ScheduleMode: models.ScheduleOff,
		Windows:      []models.ScheduleWindow{},
		Stats:        r.Stats,
		CreatedAt:    parseTime(r.CreatedAt, now),
	}
	if ep.ID == "" {
		ep.ID = models.NewID("ep")
	}
	if ep.Kind == "" {
		ep.Kind = models.KindDiscord
	}
	if ep.Name == "" {
		ep.Name = ep.Kind.Label()
	}

	mode, err := models.ParseScheduleMode(r.ScheduleMode)
	if err != nil {
		mode = models.ScheduleOff
	}
	windows := r.Schedules

	if r.LegacyScheduleEnabled != nil && *r.LegacyScheduleEnabled && len(windows) == 0 {
		start, end := r.LegacyScheduleStart, r.LegacyScheduleEnd
		if start == "" {
			start = "00:00"
		}
		if end == "" {
			end = "23:59"
		}
		mode = models.ScheduleDateRange
		windows = []models.ScheduleWindow{{Date: now.Format(models.DateLayout), Start: start, End: end}}
	}

	ep.ScheduleMode = mode
	for _, w := range windows {
		if nw, err := w.Normalize(); err == nil {
			ep.Windows = append(ep.Windows, nw)
		}
	}
	return ep
}

func parseTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	if t, err := time.ParseInLocation(timeLayout, s, fallback.Location()); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(fallback.Location())
	}
	return fallback
}
