package storage

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"
)

//go:embed seed.json
var seedJSON []byte

// Seed returns the compiled-in starting configuration used when no snapshot
// can be loaded.
func Seed(now time.Time) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(seedJSON, &snap); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	snap.Version = SnapshotVersion
	snap.UpdatedAt = now.Format(timeLayout)
	if snap.Groups == nil {
		snap.Groups = map[string]GroupRecord{}
	}
	return &snap, nil
}
