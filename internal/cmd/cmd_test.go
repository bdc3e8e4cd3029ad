package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forsc/docsearch/internal/searcher/executor"
	apperrors "github.com/forsc/docsearch/pkg/errors"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, indexDir, docsDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := fmt.Sprintf("index:\n  dir: %s\n  docsDir: %s\nmetrics:\n  enabled: false\nlogging:\n  level: error\n", indexDir, docsDir)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestIndexSearchFiles(t *testing.T) {
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.txt"), []byte("cat dog dog"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "b.txt"), []byte("dog"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "bad.txt"), []byte{0xff, 0xfe}, 0o644))
	indexDir := filepath.Join(t.TempDir(), "indexdir")
	cfgPath := writeConfig(t, indexDir, docs)

	out, err := run(t, "--config", cfgPath, "index")
	require.NoError(t, err, out)
	assert.Contains(t, out, "indexed 2 documents")
	assert.Contains(t, out, "skipped 1:")
	assert.Contains(t, out, "bad.txt")

	out, err = run(t, "--config", cfgPath, "search", "dog", "-n", "10")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2  "), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "a.txt"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1  "), lines[1])

	out, err = run(t, "--config", cfgPath, "search", "--json", "cat")
	require.NoError(t, err, out)
	var result executor.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.TotalHits)
	searchJSON = false

	out, err = run(t, "--config", cfgPath, "search", "zebra")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")

	out, err = run(t, "--config", cfgPath, "files")
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nb.txt\nbad.txt\n", out)
}

func TestSearchWithoutIndex(t *testing.T) {
	cfgPath := writeConfig(t, filepath.Join(t.TempDir(), "none"), t.TempDir())
	_, err := run(t, "--config", cfgPath, "search", "dog")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotOpen)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIndexMissingDocsDir(t *testing.T) {
	cfgPath := writeConfig(t, filepath.Join(t.TempDir(), "idx"), filepath.Join(t.TempDir(), "absent"))
	_, err := run(t, "--config", cfgPath, "index")
	assert.Error(t, err)
}
