package relay

import (
	"fmt"
	"time"

	"github.com/shohag/fanrelay/internal/models"
)

const statsHistoryLimit = 20

type EndpointView struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	Kind            models.Kind             `json:"webhook_type"`
	URLPreview      string                  `json:"url_preview"`
	Enabled         bool                    `json:"enabled"`
	Fixed           bool                    `json:"is_fixed"`
	ScheduleMode    models.ScheduleMode     `json:"schedule_mode"`
	Windows         []models.ScheduleWindow `json:"schedules"`
	ScheduleSummary string                  `json:"schedule_info"`
	CoveredNow      bool                    `json:"is_in_schedule"`
	Delivered       int64                   `json:"sent"`
	Failed          int64                   `json:"failed"`
	CreatedAt       string                  `json:"created_at"`
}

type GroupStats struct {
	ID               string                `json:"group_id"`
	DisplayName      string                `json:"display_name"`
	Mode             models.Mode           `json:"send_mode"`
	ModeLabel        string                `json:"send_mode_name"`
	EndpointsTotal   int                   `json:"webhooks_total"`
	EndpointsEnabled int                   `json:"webhooks_enabled"`
	EndpointsFixed   int                   `json:"webhooks_fixed"`
	Cursor           int                   `json:"current_index"`
	Counters         GroupCounters         `json:"counters"`
	SuccessRate      string                `json:"success_rate"`
	Endpoints        []EndpointView        `json:"webhooks"`
	History          []models.HistoryEntry `json:"history"`
}

type Overview struct {
	Uptime         string       `json:"uptime"`
	TotalGroups    int          `json:"total_groups"`
	TotalReceived  int64        `json:"total_received"`
	TotalDelivered int64        `json:"total_sent"`
	TotalFailed    int64        `json:"total_failed"`
	SuccessRate    string       `json:"success_rate"`
	Timezone       string       `json:"timezone"`
	CurrentTime    string       `json:"current_time"`
	Groups         []GroupStats `json:"groups"`
}

func (g *Group) Stats() GroupStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	today := now.Format(models.DateLayout)
	st := GroupStats{
		ID:             g.id,
		DisplayName:    g.name,
		Mode:           g.mode,
		ModeLabel:      g.mode.Label(),
		EndpointsTotal: len(g.endpoints),
		Counters:       g.counters,
		SuccessRate:    models.RateString(g.counters.Delivered, g.counters.Received),
		Endpoints:      make([]EndpointView, 0, len(g.endpoints)),
		History:        g.history.list(statsHistoryLimit),
	}
	for _, ep := range g.endpoints {
		if ep.Enabled {
			st.EndpointsEnabled++
			if ep.Fixed {
				st.EndpointsFixed++
			}
		}
		st.Endpoints = append(st.Endpoints, EndpointView{
			ID:              ep.ID,
			Name:            ep.Name,
			Kind:            ep.Kind,
			URLPreview:      ep.URLPreview(),
			Enabled:         ep.Enabled,
			Fixed:           ep.Fixed,
			ScheduleMode:    ep.ScheduleMode,
			Windows:         append([]models.ScheduleWindow{}, ep.Windows...),
			ScheduleSummary: models.ScheduleSummary(ep.ScheduleMode, ep.Windows, today),
			CoveredNow:      ep.IsCovered(now),
			Delivered:       ep.Stats.Delivered,
			Failed:          ep.Stats.Failed,
			CreatedAt:       ep.CreatedAt.Format(historyTimeLayout),
		})
	}
	if n := g.rotatingCountLocked(); n > 0 {
		st.Cursor = g.cursor % n
	}
	return st
}

func (m *Manager) Stats() Overview {
	now := m.opts.Now()
	groups := m.Groups()
	ov := Overview{
		Uptime:      formatUptime(now.Sub(m.started)),
		TotalGroups: len(groups),
		Timezone:    m.opts.Timezone,
		CurrentTime: now.Format(historyTimeLayout),
		Groups:      make([]GroupStats, 0, len(groups)),
	}
	for _, g := range groups {
		st := g.Stats()
		ov.TotalReceived += st.Counters.Received
		ov.TotalDelivered += st.Counters.Delivered
		ov.TotalFailed += st.Counters.Failed
		ov.Groups = append(ov.Groups, st)
	}
	ov.SuccessRate = models.RateString(ov.TotalDelivered, ov.TotalReceived)
	return ov
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%dh %dm %ds", total/3600, total%3600/60, total%60)
}
