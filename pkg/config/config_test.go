package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "indexdir", cfg.Index.Dir)
	assert.Equal(t, "content", cfg.Index.DefaultField)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, []string{"txt", "pdf", "doc", "docx"}, cfg.Upload.AllowedExtensions)
	assert.Equal(t, 16, cfg.Upload.MaxFiles)
	assert.Equal(t, 10*time.Minute, cfg.Index.BuildTimeout)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 30, cfg.Server.WriteRateLimit)
	assert.Empty(t, cfg.Server.AllowOrigins)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
index:
  dir: /var/lib/docsearch/index
  docsDir: /srv/docs
  recursive: true
search:
  defaultLimit: 5
  maxResults: 50
watch:
  enabled: true
  debounce: 500ms
redis:
  enabled: true
  cacheTTL: 2m
`), 0o644))

	t.Setenv("DS_INDEX_DOCS_DIR", "/override/docs")
	t.Setenv("DS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DS_LOGGING_LEVEL", "debug")
	t.Setenv("DS_SERVER_ALLOW_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/docsearch/index", cfg.Index.Dir)
	assert.Equal(t, "/override/docs", cfg.Index.DocsDir)
	assert.True(t, cfg.Index.Recursive)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 2*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowOrigins)
	assert.Equal(t, 4, cfg.Index.ReadWorkers, "unset keys keep defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  defaultLimit: 500\n  maxResults: 100\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaultLimit")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	dsn := Default().Postgres.DSN()
	assert.Equal(t, "host=localhost port=5432 user=docsearch password=localdev dbname=docsearch sslmode=disable", dsn)
}
