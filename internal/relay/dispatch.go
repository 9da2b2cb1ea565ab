package relay

import (
	"fmt"
	"strings"

	"github.com/shohag/fanrelay/internal/models"
)

const (
	historyTimeLayout = "2006-01-02 15:04:05"
	contentPreviewLen = 50
	sourcePreviewLen  = 15

	msgFiltered       = "filtered"
	msgNoEndpoint     = "no enabled endpoint"
	msgAllOutOfWindow = "all endpoints out of schedule"
)

// Result is the caller-visible outcome of one relay call.
type Result struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	GroupID  string           `json:"group_id"`
	Mode     models.Mode      `json:"mode"`
	Filtered bool             `json:"filtered,omitempty"`
	Outcomes []models.Outcome `json:"details"`
}

// dispatchPlan is the selection made under the group lock. outcomes is in
// report order; targets[i] is delivered and its result lands in
// outcomes[slots[i]].
type dispatchPlan struct {
	mode     models.Mode
	outcomes []models.Outcome
	targets  []models.Endpoint
	slots    []int
}

func (p *dispatchPlan) skip(ep *models.Endpoint) {
	p.outcomes = append(p.outcomes, outcomeFor(ep, models.StatusSkipped, ""))
}

func (p *dispatchPlan) attempt(ep *models.Endpoint) {
	p.slots = append(p.slots, len(p.outcomes))
	p.targets = append(p.targets, ep.Clone())
	// status is filled in by commit
	p.outcomes = append(p.outcomes, outcomeFor(ep, "", ""))
}

func outcomeFor(ep *models.Endpoint, status models.OutcomeStatus, errMsg string) models.Outcome {
	return models.Outcome{
		EndpointID: ep.ID,
		Name:       ep.Name,
		Kind:       ep.Kind,
		Fixed:      ep.Fixed,
		Status:     status,
		Error:      errMsg,
	}
}

func isNoise(msg models.Message, markers []string) bool {
	if msg.HasImage() || msg.Text == "" {
		return false
	}
	for _, m := range markers {
		if m != "" && strings.Contains(msg.Text, m) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// plan filters the message and selects targets. When nothing needs to be
// delivered it returns a finished Result instead of a plan.
func (g *Group) plan(msg models.Message, markers []string) (*dispatchPlan, *Result) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	entry := models.HistoryEntry{
		Time:     now.Format(historyTimeLayout),
		Content:  models.Truncate(msg.Text, contentPreviewLen),
		Source:   tail(msg.Source, sourcePreviewLen),
		HasImage: msg.HasImage(),
		Mode:     g.mode.Label(),
	}

	if isNoise(msg, markers) {
		entry.Status = "filtered (text only)"
		entry.Mode = msgFiltered
		entry.Filtered = true
		g.history.push(entry)
		return nil, &Result{Success: true, Message: msgFiltered, GroupID: g.id, Mode: g.mode, Filtered: true, Outcomes: []models.Outcome{}}
	}

	g.counters.Received++
	p := &dispatchPlan{mode: g.mode}

	haveFixed := false
	for _, ep := range g.endpoints {
		if !ep.Enabled || !ep.Fixed {
			continue
		}
		haveFixed = true
		if ep.IsCovered(now) {
			p.attempt(ep)
		} else {
			p.skip(ep)
		}
	}

	var rotating []*models.Endpoint
	for _, ep := range g.endpoints {
		if ep.Rotating() {
			rotating = append(rotating, ep)
		}
	}

	if !haveFixed && len(rotating) == 0 {
		return nil, g.finishEarlyLocked(entry, msgNoEndpoint, nil)
	}

	switch g.mode {
	case models.ModeRoundRobin:
		selected := false
		if n := len(rotating); n > 0 {
			start := g.cursor % n
			for i := 0; i < n; i++ {
				pos := (start + i) % n
				ep := rotating[pos]
				if ep.IsCovered(now) {
					p.attempt(ep)
					g.cursor = (pos + 1) % n
					selected = true
					break
				}
				p.skip(ep)
			}
		}
		if !selected && !haveFixed {
			return nil, g.finishEarlyLocked(entry, msgAllOutOfWindow, p.outcomes)
		}
	default:
		for _, ep := range rotating {
			if ep.IsCovered(now) {
				p.attempt(ep)
			} else {
				p.skip(ep)
			}
		}
	}
	return p, nil
}

func (g *Group) finishEarlyLocked(entry models.HistoryEntry, message string, outcomes []models.Outcome) *Result {
	entry.Status = message
	entry.Outcomes = outcomes
	g.history.push(entry)
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	return &Result{Success: false, Message: message, GroupID: g.id, Mode: g.mode, Outcomes: outcomes}
}

// commit books delivery results. errs is parallel to p.targets.
func (g *Group) commit(p *dispatchPlan, msg models.Message, errs []error) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, target := range p.targets {
		slot := &p.outcomes[p.slots[i]]
		if errs[i] == nil {
			slot.Status = models.StatusDelivered
		} else {
			slot.Status = models.StatusFailed
			slot.Error = errs[i].Error()
		}
		// the endpoint may have been removed while delivery was in flight
		if ep, _, err := g.findLocked(target.ID); err == nil {
			ep.RecordOutcome(errs[i] == nil)
		}
	}

	var delivered, failed, skipped int
	tags := make([]string, 0, len(p.outcomes))
	for _, o := range p.outcomes {
		switch o.Status {
		case models.StatusDelivered:
			delivered++
		case models.StatusFailed:
			failed++
		case models.StatusSkipped:
			skipped++
		}
		tags = append(tags, o.Tag())
	}
	g.counters.Delivered += int64(delivered)
	g.counters.Failed += int64(failed)

	parts := []string{fmt.Sprintf("delivered: %d", delivered)}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("failed: %d", failed))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("skipped: %d", skipped))
	}
	message := fmt.Sprintf("[%s] %s", p.mode.Label(), strings.Join(parts, ", "))

	g.history.push(models.HistoryEntry{
		Time:     g.now().Format(historyTimeLayout),
		Content:  models.Truncate(msg.Text, contentPreviewLen),
		Status:   strings.Join(tags, " | "),
		Source:   tail(msg.Source, sourcePreviewLen),
		HasImage: msg.HasImage(),
		Mode:     p.mode.Label(),
		Outcomes: append([]models.Outcome(nil), p.outcomes...),
	})

	return Result{
		Success:  delivered > 0,
		Message:  message,
		GroupID:  g.id,
		Mode:     p.mode,
		Outcomes: p.outcomes,
	}
}
