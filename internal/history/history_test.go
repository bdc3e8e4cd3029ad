package history

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forsc/docsearch/internal/indexer"
	"github.com/forsc/docsearch/pkg/config"
	apperrors "github.com/forsc/docsearch/pkg/errors"
	"github.com/forsc/docsearch/pkg/postgres"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *Store {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	client, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "docsearch_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "docsearch"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	s := New(client)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	dir := fmt.Sprintf("/tmp/history-test-%d", time.Now().UnixNano())
	started := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.RecordRebuild(ctx, &indexer.RebuildReport{
		IndexDir: dir, Generation: 1, Indexed: 2, Skipped: []indexer.SkippedDocument{},
		StartedAt: started, Duration: 20 * time.Millisecond,
	}))
	require.NoError(t, s.RecordRebuild(ctx, &indexer.RebuildReport{
		IndexDir: dir, Generation: 2, Indexed: 1,
		Skipped:   []indexer.SkippedDocument{{Path: "bad.txt", Reason: "not valid UTF-8"}},
		StartedAt: started.Add(time.Second), Duration: 30 * time.Millisecond,
	}))

	runs, err := s.Recent(ctx, dir, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(2), runs[0].Generation)
	assert.Equal(t, []indexer.SkippedDocument{{Path: "bad.txt", Reason: "not valid UTF-8"}}, runs[0].Skipped)
	assert.Equal(t, 30*time.Millisecond, runs[0].Duration)
	assert.Empty(t, runs[1].Skipped)
}

func TestRecentRejectsBadLimit(t *testing.T) {
	s := &Store{}
	_, err := s.Recent(context.Background(), "indexdir", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
