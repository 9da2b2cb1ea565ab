package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shohag/fanrelay/internal/models"
)

type SQLiteLog struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteLog{db: db}, nil
}

func (s *SQLiteLog) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			has_image INTEGER NOT NULL DEFAULT 0,
			filtered INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			dispatch_id TEXT NOT NULL REFERENCES dispatches(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			endpoint_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			is_fixed INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (dispatch_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_group ON dispatches(group_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_created ON dispatches(created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

func (s *SQLiteLog) RecordDispatch(ctx context.Context, rec *DispatchRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dispatches (id, group_id, mode, content, source, has_image, filtered, success, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.GroupID, string(rec.Mode), models.Truncate(rec.Content, 200), rec.Source,
		rec.HasImage, rec.Filtered, rec.Success, rec.Message, rec.CreatedAt.UTC(),
	); err != nil {
		return err
	}

	for i, o := range rec.Outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outcomes (dispatch_id, position, endpoint_id, name, kind, is_fixed, status, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, i, o.EndpointID, o.Name, string(o.Kind), o.Fixed, string(o.Status), o.Error,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteLog) ListDispatches(ctx context.Context, groupID string, limit, offset int) ([]DispatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, mode, content, source, has_image, filtered, success, message, created_at
		 FROM dispatches WHERE group_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		groupID, limit, offset)
	if err != nil {
		return nil, err
	}

	var recs []DispatchRecord
	for rows.Next() {
		var r DispatchRecord
		var mode string
		if err := rows.Scan(&r.ID, &r.GroupID, &mode, &r.Content, &r.Source,
			&r.HasImage, &r.Filtered, &r.Success, &r.Message, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.Mode = models.Mode(mode)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// one connection only: outcomes are read after the dispatch cursor is released
	for i := range recs {
		outcomes, err := s.outcomes(ctx, recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].Outcomes = outcomes
	}
	return recs, nil
}

func (s *SQLiteLog) outcomes(ctx context.Context, dispatchID string) ([]models.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint_id, name, kind, is_fixed, status, error FROM outcomes WHERE dispatch_id = ? ORDER BY position`,
		dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := []models.Outcome{}
	for rows.Next() {
		var o models.Outcome
		var kind, status string
		if err := rows.Scan(&o.EndpointID, &o.Name, &kind, &o.Fixed, &status, &o.Error); err != nil {
			return nil, err
		}
		o.Kind = models.Kind(kind)
		o.Status = models.OutcomeStatus(status)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func (s *SQLiteLog) Stats(ctx context.Context, groupID string) (*DispatchStats, error) {
	stats := &DispatchStats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(SUM(filtered), 0) FROM dispatches WHERE group_id = ?`,
		groupID).Scan(&stats.Dispatches, &stats.Successful, &stats.Filtered)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT o.status, COUNT(*) FROM outcomes o JOIN dispatches d ON o.dispatch_id = d.id
		 WHERE d.group_id = ? GROUP BY o.status`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch models.OutcomeStatus(strings.TrimSpace(status)) {
		case models.StatusDelivered:
			stats.Delivered = n
		case models.StatusFailed:
			stats.Failed = n
		case models.StatusSkipped:
			stats.Skipped = n
		}
	}
	return stats, rows.Err()
}

func (s *SQLiteLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
