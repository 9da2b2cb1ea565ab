package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Kind string

const (
	KindDiscord Kind = "discord"
	KindFeishu  Kind = "feishu"
	KindWeCom   Kind = "wecom"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDiscord, KindFeishu, KindWeCom:
		return k, nil
	}
	return "", invalid("type", "must be one of discord, feishu, wecom")
}

func (k Kind) Label() string {
	switch k {
	case KindDiscord:
		return "Discord"
	case KindFeishu:
		return "Feishu"
	case KindWeCom:
		return "WeCom"
	}
	return "Webhook"
}

// Short is the two-letter tag used in history status lines.
func (k Kind) Short() string {
	switch k {
	case KindDiscord:
		return "DC"
	case KindFeishu:
		return "FS"
	case KindWeCom:
		return "WX"
	}
	return "??"
}

// NeedsImageKey reports whether the destination takes a pre-uploaded media
// reference instead of raw image bytes.
func (k Kind) NeedsImageKey() bool { return k == KindFeishu }

type Counters struct {
	Delivered int64 `json:"sent"`
	Failed    int64 `json:"failed"`
}

// Endpoint is one outbound destination. All mutation happens under the lock
// of the group that owns it.
type Endpoint struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Kind         Kind             `json:"type"`
	URL          string           `json:"url"`
	Enabled      bool             `json:"enabled"`
	Fixed        bool             `json:"is_fixed"`
	ScheduleMode ScheduleMode     `json:"schedule_mode"`
	Windows      []ScheduleWindow `json:"schedules"`
	Stats        Counters         `json:"stats"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewEndpoint validates the address and kind and returns an enabled endpoint
// with a fresh id. A blank name is replaced by "<Kind>-HHMMSS".
func NewEndpoint(rawURL, name string, kind Kind, fixed bool, now time.Time) (*Endpoint, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("%s-%s", kind.Label(), now.Format("150405"))
	}
	return &Endpoint{
		ID:           NewID("ep"),
		Name:         name,
		Kind:         kind,
		URL:          strings.TrimSpace(rawURL),
		Enabled:      true,
		Fixed:        fixed,
		ScheduleMode: ScheduleOff,
		Windows:      []ScheduleWindow{},
		CreatedAt:    now,
	}, nil
}

func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return invalid("url", "must be a valid https:// URL")
	}
	return nil
}

func (e *Endpoint) SetEnabled(enabled bool) { e.Enabled = enabled }

func (e *Endpoint) SetFixed(fixed bool) { e.Fixed = fixed }

func (e *Endpoint) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", "must not be blank")
	}
	e.Name = name
	return nil
}

// SetSchedule replaces the whole window collection. Nothing is changed when
// any window is invalid.
func (e *Endpoint) SetSchedule(mode ScheduleMode, windows []ScheduleWindow) error {
	mode, err := ParseScheduleMode(string(mode))
	if err != nil {
		return err
	}
	normalized := make([]ScheduleWindow, 0, len(windows))
	for _, w := range windows {
		nw, err := w.Normalize()
		if err != nil {
			return err
		}
		normalized = append(normalized, nw)
	}
	e.ScheduleMode = mode
	e.Windows = normalized
	return nil
}

// PruneExpired drops windows dated before today and returns how many went.
func (e *Endpoint) PruneExpired(today string) int {
	kept := make([]ScheduleWindow, 0, len(e.Windows))
	for _, w := range e.Windows {
		if !w.Expired(today) {
			kept = append(kept, w)
		}
	}
	removed := len(e.Windows) - len(kept)
	e.Windows = kept
	return removed
}

// IsCovered reports whether the endpoint's schedule admits now. A disabled
// schedule always admits; an enabled schedule with no windows never does.
func (e *Endpoint) IsCovered(now time.Time) bool {
	if e.ScheduleMode != ScheduleDateRange {
		return true
	}
	for _, w := range e.Windows {
		if w.Covers(now) {
			return true
		}
	}
	return false
}

func (e *Endpoint) RecordOutcome(success bool) {
	if success {
		e.Stats.Delivered++
	} else {
		e.Stats.Failed++
	}
}

// Rotating reports membership in the round-robin pool: enabled and not fixed.
func (e *Endpoint) Rotating() bool { return e.Enabled && !e.Fixed }

// Clone returns a copy that shares no slices with e.
func (e *Endpoint) Clone() Endpoint {
	c := *e
	c.Windows = append([]ScheduleWindow(nil), e.Windows...)
	return c
}

// URLPreview hides most of the address, which embeds the webhook secret.
func (e *Endpoint) URLPreview() string {
	r := []rune(e.URL)
	if len(r) > 35 {
		return "..." + string(r[len(r)-30:])
	}
	return e.URL
}
