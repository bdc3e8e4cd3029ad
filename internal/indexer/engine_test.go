package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forsc/docsearch/internal/indexer/index"
	"github.com/forsc/docsearch/internal/indexer/source"
	"github.com/forsc/docsearch/internal/indexer/store"
	apperrors "github.com/forsc/docsearch/pkg/errors"
	"github.com/forsc/docsearch/pkg/metrics"
)

type memSource struct {
	docs    map[string]string
	bad     map[string]error
	listErr error
}

func (s *memSource) List(ctx context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var paths []string
	for p := range s.docs {
		paths = append(paths, p)
	}
	for p := range s.bad {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *memSource) Read(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := s.bad[path]; ok {
		return "", &apperrors.DocumentReadError{Path: path, Err: err}
	}
	return s.docs[path], nil
}

type recordingHooks struct {
	mu        sync.Mutex
	recorded  []int64
	notified  []int64
	notifyErr error
}

func (h *recordingHooks) RecordRebuild(_ context.Context, r *RebuildReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, r.Generation)
	return nil
}

func (h *recordingHooks) NotifyRebuild(_ context.Context, r *RebuildReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notified = append(h.notified, r.Generation)
	return h.notifyErr
}

func newEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	return NewEngine(Options{IndexDir: dir, ReadWorkers: 2}), dir
}

func postings(t *testing.T, dir, term string) index.PostingList {
	t.Helper()
	snap, err := store.Open(dir)
	require.NoError(t, err)
	defer snap.Close()
	list, err := snap.Postings(index.FieldContent, term)
	require.NoError(t, err)
	return list
}

func TestBuildIndexFromDirectory(t *testing.T) {
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.txt"), []byte("Hello World"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "b.txt"), []byte("hello there hello"), 0o644))

	e, dir := newEngine(t)
	report, err := e.BuildIndex(context.Background(), &source.Directory{Root: docs})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Empty(t, report.Skipped)
	assert.NotZero(t, report.Generation)

	list := postings(t, dir, "hello")
	require.Len(t, list, 2)
	assert.Equal(t, filepath.Join(docs, "a.txt"), list[0].DocID)
	assert.Equal(t, 1, list[0].Frequency)
	assert.Equal(t, filepath.Join(docs, "b.txt"), list[1].DocID)
	assert.Equal(t, 2, list[1].Frequency)

	snap, err := store.Open(dir)
	require.NoError(t, err)
	defer snap.Close()
	stored, ok := snap.Stored(filepath.Join(docs, "a.txt"))
	require.True(t, ok)
	assert.Equal(t, "a.txt", stored.Title)
	assert.Equal(t, "Hello World", stored.StoredText)
}

func TestBuildIndexSkipsUnreadableDocuments(t *testing.T) {
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "good.txt"), []byte("fine words"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "bad.txt"), []byte{0xff, 0xfe, 0xfd}, 0o644))

	e, dir := newEngine(t)
	report, err := e.BuildIndex(context.Background(), &source.Directory{Root: docs})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, filepath.Join(docs, "bad.txt"), report.Skipped[0].Path)
	assert.Contains(t, report.Skipped[0].Reason, "UTF-8")
	assert.Len(t, postings(t, dir, "fine"), 1)
}

func TestBuildIndexEmptySource(t *testing.T) {
	e, dir := newEngine(t)
	report, err := e.BuildIndex(context.Background(), &memSource{})
	require.NoError(t, err)
	assert.Zero(t, report.Indexed)

	snap, err := store.Open(dir)
	require.NoError(t, err)
	defer snap.Close()
	assert.Zero(t, snap.DocCount())
}

func TestBuildIndexFailOnEmpty(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(Options{IndexDir: dir, FailOnEmpty: true})
	_, err := e.BuildIndex(context.Background(), &memSource{})
	assert.ErrorIs(t, err, apperrors.ErrEmptySource)

	exists, err := store.Exists(dir)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRebuildReplacesPreviousIndex(t *testing.T) {
	e, dir := newEngine(t)
	_, err := e.BuildIndex(context.Background(), &memSource{docs: map[string]string{"a.txt": "apple"}})
	require.NoError(t, err)
	_, err = e.BuildIndex(context.Background(), &memSource{docs: map[string]string{"c.txt": "cherry"}})
	require.NoError(t, err)

	assert.Empty(t, postings(t, dir, "apple"))
	assert.Len(t, postings(t, dir, "cherry"), 1)
}

func TestRebuildIsIdempotent(t *testing.T) {
	src := &memSource{docs: map[string]string{
		"a.txt": "the quick brown fox",
		"b.txt": "the lazy dog",
		"c.txt": "quick quick dog",
	}}
	e, dir := newEngine(t)

	_, err := e.BuildIndex(context.Background(), src)
	require.NoError(t, err)
	first := map[string]index.PostingList{}
	for _, term := range []string{"the", "quick", "dog", "fox", "lazy", "brown"} {
		first[term] = postings(t, dir, term)
	}

	_, err = e.BuildIndex(context.Background(), src)
	require.NoError(t, err)
	for term, list := range first {
		assert.Equal(t, list, postings(t, dir, term), term)
	}
}

func TestBuildIndexCancelledKeepsPreviousIndex(t *testing.T) {
	e, dir := newEngine(t)
	_, err := e.BuildIndex(context.Background(), &memSource{docs: map[string]string{"a.txt": "apple"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.BuildIndex(ctx, &memSource{docs: map[string]string{"b.txt": "banana"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, postings(t, dir, "apple"), 1)
	assert.Empty(t, postings(t, dir, "banana"))
}

func TestBuildIndexListError(t *testing.T) {
	e, _ := newEngine(t)
	boom := errors.New("permission denied")
	_, err := e.BuildIndex(context.Background(), &memSource{listErr: boom})
	assert.ErrorIs(t, err, boom)
}

func TestBuildIndexRejectsConcurrentRebuild(t *testing.T) {
	e, _ := newEngine(t)
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.BuildIndex(context.Background(), &memSource{})
	assert.ErrorIs(t, err, apperrors.ErrRebuildInProgress)
}

func TestBuildIndexHooks(t *testing.T) {
	hooks := &recordingHooks{notifyErr: errors.New("broker down")}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	e := NewEngine(Options{
		IndexDir: t.TempDir(),
		Metrics:  m,
		Recorder: hooks,
		Notifier: hooks,
	})
	report, err := e.BuildIndex(context.Background(), &memSource{
		docs: map[string]string{"a.txt": "alpha"},
		bad:  map[string]error{"b.txt": errors.New("locked")},
	})
	require.NoError(t, err, "a failing notifier does not fail the rebuild")
	assert.Equal(t, []int64{report.Generation}, hooks.recorded)
	assert.Equal(t, []int64{report.Generation}, hooks.notified)
	assert.Equal(t, []SkippedDocument{{Path: "b.txt", Reason: "locked"}}, report.Skipped)
}

func TestBuildIndexManyDocumentsKeepsOrder(t *testing.T) {
	docs := map[string]string{}
	for i := 0; i < 100; i++ {
		docs[filepath.Join("d", string(rune('a'+i%26))+string(rune('a'+i/26))+".txt")] = "common"
	}
	e, dir := newEngine(t)
	report, err := e.BuildIndex(context.Background(), &memSource{docs: docs})
	require.NoError(t, err)
	assert.Equal(t, 100, report.Indexed)

	list := postings(t, dir, "common")
	require.Len(t, list, 100)
	assert.True(t, sort.SliceIsSorted(list, func(i, j int) bool { return list[i].DocID < list[j].DocID }))
}

func BenchmarkBuildIndex(b *testing.B) {
	for _, n := range []int{100, 1000} {
		src := &memSource{docs: make(map[string]string, n)}
		for i := 0; i < n; i++ {
			src.docs[fmt.Sprintf("doc-%05d.txt", i)] = strings.Repeat(fmt.Sprintf("term%d shared words here ", i%50), 20)
		}
		b.Run(fmt.Sprintf("docs_%d", n), func(b *testing.B) {
			engine := NewEngine(Options{IndexDir: b.TempDir()})
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := engine.BuildIndex(context.Background(), src); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
