package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forsc/docsearch/internal/indexer/index"
	"github.com/forsc/docsearch/internal/indexer/segment"
	apperrors "github.com/forsc/docsearch/pkg/errors"
)

func doc(path, text string) index.Document {
	return index.Document{Title: filepath.Base(path), Path: path, Content: text, StoredText: text}
}

func commit(t *testing.T, dir string, docs ...index.Document) int64 {
	t.Helper()
	w, err := Create(dir, index.DefaultSchema(), CreateOptions{Overwrite: true})
	require.NoError(t, err)
	for _, d := range docs {
		require.NoError(t, w.AddDocument(d))
	}
	gen, err := w.Commit()
	require.NoError(t, err)
	return gen
}

func TestOpenBeforeCreate(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCreateWithoutOverwrite(t *testing.T) {
	dir := t.TempDir()
	commit(t, dir, doc("a.txt", "alpha"))

	_, err := Create(dir, index.DefaultSchema(), CreateOptions{})
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))

	w, err := Create(filepath.Join(dir, "fresh"), index.DefaultSchema(), CreateOptions{})
	require.NoError(t, err)
	w.Abort()
}

func TestCreateRejectsInvalidSchema(t *testing.T) {
	_, err := Create(t.TempDir(), index.Schema{}, CreateOptions{Overwrite: true})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestCommitAndOpen(t *testing.T) {
	dir := t.TempDir()
	gen := commit(t, dir, doc("a.txt", "cat dog dog"), doc("b.txt", "dog"))

	snap, err := Open(dir)
	require.NoError(t, err)
	defer snap.Close()

	assert.Equal(t, gen, snap.Generation())
	assert.Equal(t, 2, snap.DocCount())
	postings, err := snap.Postings(index.FieldContent, "dog")
	require.NoError(t, err)
	require.Len(t, postings, 2)

	stored, ok := snap.Stored("a.txt")
	require.True(t, ok)
	assert.Equal(t, "cat dog dog", stored.StoredText)
}

func TestUncommittedWritesAreInvisible(t *testing.T) {
	dir := t.TempDir()
	commit(t, dir, doc("a.txt", "alpha"))

	w, err := Create(dir, index.DefaultSchema(), CreateOptions{Overwrite: true})
	require.NoError(t, err)
	require.NoError(t, w.AddDocument(doc("b.txt", "beta")))

	snap, err := Open(dir)
	require.NoError(t, err)
	defer snap.Close()
	postings, err := snap.Postings(index.FieldContent, "alpha")
	require.NoError(t, err)
	assert.Len(t, postings, 1, "previous generation still served")
	postings, err = snap.Postings(index.FieldContent, "beta")
	require.NoError(t, err)
	assert.Empty(t, postings)

	w.Abort()
	assert.Error(t, w.AddDocument(doc("c.txt", "gamma")))
	_, err = w.Commit()
	assert.Error(t, err)
}

func TestRebuildReplacesPriorContent(t *testing.T) {
	dir := t.TempDir()
	first := commit(t, dir, doc("a.txt", "alpha"))

	old, err := Open(dir)
	require.NoError(t, err)
	defer old.Close()

	second := commit(t, dir, doc("b.txt", "beta"))
	assert.Greater(t, second, first)

	snap, err := Open(dir)
	require.NoError(t, err)
	defer snap.Close()
	postings, err := snap.Postings(index.FieldContent, "alpha")
	require.NoError(t, err)
	assert.Empty(t, postings)
	_, ok := snap.Stored("a.txt")
	assert.False(t, ok)

	postings, err = old.Postings(index.FieldContent, "alpha")
	require.NoError(t, err)
	assert.Len(t, postings, 1, "an open snapshot keeps serving its generation")

	segments, err := filepath.Glob(filepath.Join(dir, "seg_*"))
	require.NoError(t, err)
	assert.Len(t, segments, 2, "only the previous generation is kept alongside the live one")
}

func TestCommitRetainsPreviousGeneration(t *testing.T) {
	dir := t.TempDir()
	commit(t, dir, doc("a.txt", "alpha"))
	first, err := readCurrent(dir)
	require.NoError(t, err)

	// A reader that resolved CURRENT before the next commit can still open it.
	commit(t, dir, doc("b.txt", "beta"))
	late, err := segment.OpenReader(filepath.Join(dir, first))
	require.NoError(t, err)
	late.Close()

	second, err := readCurrent(dir)
	require.NoError(t, err)
	commit(t, dir, doc("c.txt", "gamma"))

	_, err = os.Stat(filepath.Join(dir, first))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "generations older than the previous one are removed")
	_, err = os.Stat(filepath.Join(dir, second))
	assert.NoError(t, err)

	snap, err := Open(dir)
	require.NoError(t, err)
	defer snap.Close()
	_, ok := snap.Stored("c.txt")
	assert.True(t, ok)
}

func TestOpenMissingSegment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeCurrent(dir, "seg_42"+segment.FileExt))

	_, err := Open(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestEmptyCommit(t *testing.T) {
	dir := t.TempDir()
	commit(t, dir)

	snap, err := Open(dir)
	require.NoError(t, err)
	defer snap.Close()
	assert.Zero(t, snap.DocCount())
}

func TestCorruptCurrentPointer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, currentFile), []byte("../../etc/passwd\n"), 0o644))
	_, err := Open(dir)
	assert.True(t, errors.Is(err, apperrors.ErrCorruptIndex))
}

func TestCurrentPointerContents(t *testing.T) {
	dir := t.TempDir()
	gen := commit(t, dir, doc("a.txt", "alpha"))
	data, err := os.ReadFile(filepath.Join(dir, currentFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "seg_"))
	assert.Contains(t, string(data), ".spdx")
	assert.NotZero(t, gen)
}
