package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type Mode string

const (
	ModeBroadcast  Mode = "broadcast"
	ModeRoundRobin Mode = "round_robin"
)

// ParseMode accepts the legacy "sync" spelling of broadcast.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "broadcast", "sync":
		return ModeBroadcast, nil
	case "round_robin", "roundrobin":
		return ModeRoundRobin, nil
	}
	return "", invalid("mode", "must be broadcast or round_robin")
}

func (m Mode) Label() string {
	if m == ModeRoundRobin {
		return "round-robin"
	}
	return "broadcast"
}

// Message is one inbound notification after attachments have been resolved
// into raw bytes.
type Message struct {
	Text   string
	Image  []byte
	Source string
}

func (m Message) HasImage() bool { return len(m.Image) > 0 }

type OutcomeStatus string

const (
	StatusDelivered OutcomeStatus = "delivered"
	StatusFailed    OutcomeStatus = "failed"
	StatusSkipped   OutcomeStatus = "skipped"
)

// Outcome is what happened to one endpoint during one dispatch.
type Outcome struct {
	EndpointID string        `json:"endpoint_id"`
	Name       string        `json:"name"`
	Kind       Kind          `json:"type"`
	Fixed      bool          `json:"is_fixed"`
	Status     OutcomeStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
}

func (o Outcome) Success() bool { return o.Status == StatusDelivered }

func (o Outcome) Skipped() bool { return o.Status == StatusSkipped }

func (o Outcome) Tag() string {
	mark := "[OK]"
	switch o.Status {
	case StatusFailed:
		mark = "[FAIL]"
	case StatusSkipped:
		mark = "[SKIP]"
	}
	return mark + o.Kind.Short() + " " + Truncate(o.Name, 8)
}

type HistoryEntry struct {
	Time     string    `json:"time"`
	Content  string    `json:"content"`
	Status   string    `json:"status"`
	Source   string    `json:"source"`
	HasImage bool      `json:"has_image"`
	Mode     string    `json:"mode"`
	Filtered bool      `json:"filtered,omitempty"`
	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// Credentials is the app id/secret pair for the feishu auth exchange.
type Credentials struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

func (c Credentials) Configured() bool { return c.AppID != "" && c.AppSecret != "" }

type MaskedCredentials struct {
	AppID      string `json:"app_id_masked"`
	AppSecret  string `json:"app_secret_masked"`
	Configured bool   `json:"is_configured"`
}

func (c Credentials) Masked() MaskedCredentials {
	id := Truncate(c.AppID, 10)
	secret := "***"
	if utf8.RuneCountInString(c.AppSecret) > 8 {
		secret = Truncate(c.AppSecret, 8)
	}
	return MaskedCredentials{AppID: id, AppSecret: secret, Configured: c.Configured()}
}

// Truncate cuts s to n runes, appending "..." when something was cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func RateString(ok, total int64) string {
	if total < 1 {
		total = 1
	}
	return fmt.Sprintf("%.1f%%", float64(ok)/float64(total)*100)
}
