package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shohag/fanrelay/internal/models"
	"github.com/shohag/fanrelay/internal/storage"
)

type GroupCounters struct {
	Received  int64 `json:"received"`
	Delivered int64 `json:"total_sent"`
	Failed    int64 `json:"total_failed"`
}

// Group is one inbound address with its ordered endpoints and dispatch
// policy. Every field below mu is guarded by it.
type Group struct {
	id       string
	now      func() time.Time
	onChange func()

	mu        sync.Mutex
	name      string
	mode      models.Mode
	endpoints []*models.Endpoint
	cursor    int
	counters  GroupCounters
	history   *history
}

func newGroup(id, name string, historySize int, now func() time.Time, onChange func()) *Group {
	if strings.TrimSpace(name) == "" {
		name = strings.ToUpper(id)
	}
	if onChange == nil {
		onChange = func() {}
	}
	return &Group{
		id:       id,
		now:      now,
		onChange: onChange,
		name:     strings.TrimSpace(name),
		mode:     models.ModeBroadcast,
		history:  newHistory(historySize),
	}
}

func groupFromRecord(id string, rec storage.GroupRecord, historySize int, now func() time.Time, onChange func()) *Group {
	g := newGroup(id, rec.DisplayName, historySize, now, onChange)
	if mode, err := models.ParseMode(rec.Mode); err == nil {
		g.mode = mode
	}
	if rec.Cursor > 0 {
		g.cursor = rec.Cursor
	}
	ts := now()
	for _, er := range rec.Endpoints {
		ep := er.Endpoint(ts)
		g.endpoints = append(g.endpoints, &ep)
	}
	return g
}

func (g *Group) ID() string { return g.id }

// record renders the persisted form. Callers must not hold g.mu.
func (g *Group) record() storage.GroupRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := storage.GroupRecord{
		DisplayName: g.name,
		Mode:        string(g.mode),
		Cursor:      g.cursor,
		Endpoints:   make([]storage.EndpointRecord, 0, len(g.endpoints)),
	}
	for _, ep := range g.endpoints {
		rec.Endpoints = append(rec.Endpoints, storage.RecordFromEndpoint(*ep))
	}
	return rec
}

func (g *Group) findLocked(endpointID string) (*models.Endpoint, int, error) {
	for i, ep := range g.endpoints {
		if ep.ID == endpointID {
			return ep, i, nil
		}
	}
	return nil, -1, fmt.Errorf("%w: %s", ErrEndpointNotFound, endpointID)
}

// mutate runs fn on one endpoint under the lock and schedules a save when fn
// succeeds.
func (g *Group) mutate(endpointID string, fn func(ep *models.Endpoint) (string, error)) (string, error) {
	g.mu.Lock()
	ep, _, err := g.findLocked(endpointID)
	if err != nil {
		g.mu.Unlock()
		return "", err
	}
	msg, err := fn(ep)
	g.mu.Unlock()
	if err != nil {
		return "", err
	}
	g.onChange()
	return msg, nil
}

func (g *Group) SetMode(raw string) (string, error) {
	mode, err := models.ParseMode(raw)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.mode = mode
	g.mu.Unlock()
	g.onChange()
	return "mode set to " + mode.Label(), nil
}

func (g *Group) Rename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", models.Invalid("display_name", "must not be blank")
	}
	g.mu.Lock()
	g.name = name
	g.mu.Unlock()
	g.onChange()
	return "renamed to " + name, nil
}

type EndpointInput struct {
	URL   string      `json:"url"`
	Name  string      `json:"name"`
	Kind  models.Kind `json:"type"`
	Fixed bool        `json:"is_fixed"`
}

func (g *Group) AddEndpoint(in EndpointInput) (models.Endpoint, string, error) {
	kind := in.Kind
	if kind == "" {
		kind = models.KindDiscord
	}
	kind, err := models.ParseKind(string(kind))
	if err != nil {
		return models.Endpoint{}, "", err
	}
	ep, err := models.NewEndpoint(in.URL, in.Name, kind, in.Fixed, g.now())
	if err != nil {
		return models.Endpoint{}, "", err
	}

	g.mu.Lock()
	for _, existing := range g.endpoints {
		if existing.URL == ep.URL {
			g.mu.Unlock()
			return models.Endpoint{}, "", models.Invalid("url", "already registered in this group")
		}
	}
	g.endpoints = append(g.endpoints, ep)
	out := ep.Clone()
	g.mu.Unlock()

	g.onChange()
	msg := "added: " + ep.Name
	if ep.Fixed {
		msg += " (fixed)"
	}
	return out, msg, nil
}

func (g *Group) RemoveEndpoint(endpointID string) (string, error) {
	g.mu.Lock()
	ep, idx, err := g.findLocked(endpointID)
	if err != nil {
		g.mu.Unlock()
		return "", err
	}
	g.endpoints = append(g.endpoints[:idx], g.endpoints[idx+1:]...)
	if n := g.rotatingCountLocked(); n > 0 {
		g.cursor %= n
	} else {
		g.cursor = 0
	}
	g.mu.Unlock()

	g.onChange()
	return "removed: " + ep.Name, nil
}

func (g *Group) RenameEndpoint(endpointID, name string) (string, error) {
	return g.mutate(endpointID, func(ep *models.Endpoint) (string, error) {
		if err := ep.Rename(name); err != nil {
			return "", err
		}
		return "renamed to " + ep.Name, nil
	})
}

func (g *Group) SetEndpointEnabled(endpointID string, enabled bool) (string, error) {
	return g.mutate(endpointID, func(ep *models.Endpoint) (string, error) {
		ep.SetEnabled(enabled)
		if enabled {
			return ep.Name + " enabled", nil
		}
		return ep.Name + " disabled", nil
	})
}

func (g *Group) SetEndpointFixed(endpointID string, fixed bool) (string, error) {
	return g.mutate(endpointID, func(ep *models.Endpoint) (string, error) {
		ep.SetFixed(fixed)
		if fixed {
			return ep.Name + " is now fixed", nil
		}
		return ep.Name + " is no longer fixed", nil
	})
}

func (g *Group) SetEndpointSchedule(endpointID string, mode models.ScheduleMode, windows []models.ScheduleWindow) (string, error) {
	return g.mutate(endpointID, func(ep *models.Endpoint) (string, error) {
		if err := ep.SetSchedule(mode, windows); err != nil {
			return "", err
		}
		if ep.ScheduleMode == models.ScheduleOff {
			return ep.Name + " schedule disabled", nil
		}
		return fmt.Sprintf("%s schedule set (%d windows)", ep.Name, len(ep.Windows)), nil
	})
}

// PruneExpiredWindows drops windows dated before today from every endpoint.
func (g *Group) PruneExpiredWindows() (string, error) {
	today := g.now().Format(models.DateLayout)
	removed := 0
	g.mu.Lock()
	for _, ep := range g.endpoints {
		removed += ep.PruneExpired(today)
	}
	g.mu.Unlock()
	if removed > 0 {
		g.onChange()
	}
	return fmt.Sprintf("removed %d expired windows", removed), nil
}

// Endpoint returns a copy of one endpoint.
func (g *Group) Endpoint(endpointID string) (models.Endpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ep, _, err := g.findLocked(endpointID)
	if err != nil {
		return models.Endpoint{}, err
	}
	return ep.Clone(), nil
}

// recordTestOutcome books a direct test send against the endpoint counters.
// The endpoint may have been removed while the send was in flight.
func (g *Group) recordTestOutcome(endpointID string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ep, _, err := g.findLocked(endpointID); err == nil {
		ep.RecordOutcome(success)
	}
}

func (g *Group) rotatingCountLocked() int {
	n := 0
	for _, ep := range g.endpoints {
		if ep.Rotating() {
			n++
		}
	}
	return n
}

// History returns up to limit entries, newest first.
func (g *Group) History(limit int) []models.HistoryEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.history.list(limit)
}

func (g *Group) Counters() GroupCounters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counters
}
