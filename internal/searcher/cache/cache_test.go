package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forsc/docsearch/internal/searcher/executor"
	"github.com/forsc/docsearch/internal/searcher/parser"
	pkgredis "github.com/forsc/docsearch/pkg/redis"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string]string{}}
}

func (b *memBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	v, ok := b.data[key]
	if !ok {
		return "", pkgredis.ErrCacheMiss
	}
	return v, nil
}

func (b *memBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = string(value.([]byte))
	return nil
}

func (b *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func q(field string, terms ...string) *parser.Query {
	return &parser.Query{Raw: strings.Join(terms, " "), Field: field, Terms: terms}
}

func TestBuildKey(t *testing.T) {
	base := buildKey(1, q("content", "cat", "dog"), 10)
	assert.True(t, strings.HasPrefix(base, "search:1:"))
	assert.Equal(t, base, buildKey(1, q("content", "dog", "cat"), 10), "term order is irrelevant")
	assert.NotEqual(t, base, buildKey(2, q("content", "cat", "dog"), 10), "generation")
	assert.NotEqual(t, base, buildKey(1, q("title", "cat", "dog"), 10), "field")
	assert.NotEqual(t, base, buildKey(1, q("content", "cat", "dog"), 5), "limit")
	assert.NotEqual(t, base, buildKey(1, q("content", "cat"), 10), "terms")
}

func TestGetOrCompute(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil)
	ctx := context.Background()
	var calls atomic.Int32
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		return &executor.SearchResult{Query: "dog", TotalHits: 1, Results: []executor.ScoredResult{{DocID: "a.txt", Score: 2}}}, nil
	}

	res, hit, err := c.GetOrCompute(ctx, 7, q("content", "dog"), 10, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2.0, res.Results[0].Score)

	res, hit, err = c.GetOrCompute(ctx, 7, q("content", "dog"), 10, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "a.txt", res.Results[0].DocID)
	assert.Equal(t, int32(1), calls.Load())

	_, hit, err = c.GetOrCompute(ctx, 8, q("content", "dog"), 10, compute)
	require.NoError(t, err)
	assert.False(t, hit, "a new generation misses")

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestGetOrComputeError(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	boom := errors.New("index not open")
	_, _, err := c.GetOrCompute(context.Background(), 1, q("content", "dog"), 10, func() (*executor.SearchResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, backend.data, "errors are not cached")
}

func TestBackendFailureFallsThrough(t *testing.T) {
	backend := newMemBackend()
	backend.err = errors.New("connection refused")
	c := New(backend, time.Minute, nil)
	res, hit, err := c.GetOrCompute(context.Background(), 1, q("content", "dog"), 10, func() (*executor.SearchResult, error) {
		return &executor.SearchResult{Query: "dog"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "dog", res.Query)
}

func TestInvalidate(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	c.Set(context.Background(), 1, q("content", "dog"), 10, &executor.SearchResult{})
	backend.data["other:key"] = "keep"

	require.NoError(t, c.Invalidate(context.Background()))
	assert.Equal(t, map[string]string{"other:key": "keep"}, backend.data)
}
