package storage

import (
	"context"
	"time"
)

// NopLog discards dispatch records. It backs the "none" driver.
type NopLog struct{}

func (NopLog) RecordDispatch(context.Context, *DispatchRecord) error { return nil }

func (NopLog) ListDispatches(context.Context, string, int, int) ([]DispatchRecord, error) {
	return nil, nil
}

func (NopLog) Stats(context.Context, string) (*DispatchStats, error) { return &DispatchStats{}, nil }

func (NopLog) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (NopLog) Migrate(context.Context) error { return nil }

func (NopLog) Close() error { return nil }
