// Package history keeps a Postgres ledger of index rebuilds: when each ran,
// what it produced and which documents it skipped.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/forsc/docsearch/internal/indexer"
	apperrors "github.com/forsc/docsearch/pkg/errors"
	"github.com/forsc/docsearch/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS index_rebuilds (
		id           BIGSERIAL PRIMARY KEY,
		index_dir    TEXT        NOT NULL,
		generation   BIGINT      NOT NULL,
		indexed      INTEGER     NOT NULL,
		skipped      INTEGER     NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		duration_ms  BIGINT      NOT NULL,
		UNIQUE (index_dir, generation)
	)`,
	`CREATE TABLE IF NOT EXISTS index_rebuild_skips (
		rebuild_id BIGINT NOT NULL REFERENCES index_rebuilds(id) ON DELETE CASCADE,
		path       TEXT   NOT NULL,
		reason     TEXT   NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_rebuilds_started ON index_rebuilds (started_at DESC)`,
}

// Run is one recorded rebuild.
type Run struct {
	ID         int64                     `json:"id"`
	IndexDir   string                    `json:"index_dir"`
	Generation int64                     `json:"generation"`
	Indexed    int                       `json:"indexed"`
	Skipped    []indexer.SkippedDocument `json:"skipped"`
	StartedAt  time.Time                 `json:"started_at"`
	Duration   time.Duration             `json:"duration"`
}

type Store struct {
	client *postgres.Client
	logger *slog.Logger
}

func New(client *postgres.Client) *Store {
	return &Store{
		client: client,
		logger: slog.Default().With("component", "rebuild-history"),
	}
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.client.Migrate(ctx, schema...); err != nil {
		return fmt.Errorf("migrating rebuild history: %w", err)
	}
	return nil
}

// RecordRebuild implements indexer.Recorder.
func (s *Store) RecordRebuild(ctx context.Context, report *indexer.RebuildReport) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO index_rebuilds (index_dir, generation, indexed, skipped, started_at, duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (index_dir, generation) DO UPDATE SET indexed = EXCLUDED.indexed
			 RETURNING id`,
			report.IndexDir, report.Generation, report.Indexed, report.SkippedCount(),
			report.StartedAt, report.Duration.Milliseconds(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("inserting rebuild: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_rebuild_skips WHERE rebuild_id = $1`, id); err != nil {
			return fmt.Errorf("clearing skipped documents: %w", err)
		}
		for _, skip := range report.Skipped {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO index_rebuild_skips (rebuild_id, path, reason) VALUES ($1, $2, $3)`,
				id, skip.Path, skip.Reason,
			); err != nil {
				return fmt.Errorf("inserting skipped document %s: %w", skip.Path, err)
			}
		}
		s.logger.Debug("rebuild recorded", "id", id, "generation", report.Generation)
		return nil
	})
}

// Recent returns up to limit rebuilds of indexDir, newest first.
func (s *Store) Recent(ctx context.Context, indexDir string, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", apperrors.ErrInvalidInput)
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT r.id, r.index_dir, r.generation, r.indexed, r.started_at, r.duration_ms,
		        COALESCE(json_agg(json_build_object('path', k.path, 'reason', k.reason))
		                 FILTER (WHERE k.path IS NOT NULL), '[]')
		   FROM index_rebuilds r
		   LEFT JOIN index_rebuild_skips k ON k.rebuild_id = r.id
		  WHERE r.index_dir = $1
		  GROUP BY r.id
		  ORDER BY r.started_at DESC
		  LIMIT $2`,
		indexDir, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying rebuild history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			durationMS int64
			skipped    []byte
		)
		if err := rows.Scan(&run.ID, &run.IndexDir, &run.Generation, &run.Indexed, &run.StartedAt, &durationMS, &skipped); err != nil {
			return nil, fmt.Errorf("scanning rebuild row: %w", err)
		}
		if err := json.Unmarshal(skipped, &run.Skipped); err != nil {
			return nil, fmt.Errorf("decoding skipped documents: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
