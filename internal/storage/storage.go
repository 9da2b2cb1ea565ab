package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shohag/fanrelay/internal/models"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotCorrupt  = errors.New("snapshot unreadable")
)

// SnapshotStore persists the full configuration as one unit.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Quarantiner is implemented by stores that can set an unreadable snapshot
// aside before it is replaced.
type Quarantiner interface {
	Quarantine() error
}

// DispatchLog is the durable, append-only record of relay attempts.
type DispatchLog interface {
	RecordDispatch(ctx context.Context, rec *DispatchRecord) error
	ListDispatches(ctx context.Context, groupID string, limit, offset int) ([]DispatchRecord, error)
	Stats(ctx context.Context, groupID string) (*DispatchStats, error)
	Prune(ctx context.Context, before time.Time) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}

type DispatchRecord struct {
	ID        string           `json:"id"`
	GroupID   string           `json:"group_id"`
	Mode      models.Mode      `json:"mode"`
	Content   string           `json:"content"`
	Source    string           `json:"source"`
	HasImage  bool             `json:"has_image"`
	Filtered  bool             `json:"filtered"`
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Outcomes  []models.Outcome `json:"outcomes"`
	CreatedAt time.Time        `json:"created_at"`
}

type DispatchStats struct {
	Dispatches int64 `json:"dispatches"`
	Successful int64 `json:"successful"`
	Filtered   int64 `json:"filtered"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}
