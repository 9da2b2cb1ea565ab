package relay

import "github.com/shohag/fanrelay/internal/models"

// history is a fixed-capacity ring of dispatch entries.
type history struct {
	entries []models.HistoryEntry
	next    int
	full    bool
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{entries: make([]models.HistoryEntry, capacity)}
}

func (h *history) push(e models.HistoryEntry) {
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// list returns up to limit entries, newest first. limit <= 0 means all.
func (h *history) list(limit int) []models.HistoryEntry {
	n := h.len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.HistoryEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}
