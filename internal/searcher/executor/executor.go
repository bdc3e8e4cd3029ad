// Package executor runs parsed queries against the committed index snapshot.
// It holds one snapshot at a time; Reload swaps in the latest commit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/forsc/docsearch/internal/indexer/index"
	"github.com/forsc/docsearch/internal/indexer/store"
	"github.com/forsc/docsearch/internal/searcher/parser"
	"github.com/forsc/docsearch/internal/searcher/ranker"
	apperrors "github.com/forsc/docsearch/pkg/errors"
	"github.com/forsc/docsearch/pkg/metrics"
)

// ScoredResult is one ranked document.
type ScoredResult struct {
	DocID      string  `json:"doc_id"`
	Title      string  `json:"title"`
	Path       string  `json:"path"`
	StoredText string  `json:"stored_text"`
	Score      float64 `json:"score"`
}

type SearchResult struct {
	Query      string         `json:"query"`
	Field      string         `json:"field"`
	Generation int64          `json:"generation"`
	TotalHits  int            `json:"total_hits"`
	Results    []ScoredResult `json:"results"`
}

// Snapshot is the read side of a committed index.
type Snapshot interface {
	Postings(field, term string) (index.PostingList, error)
	Stored(docID string) (index.StoredDoc, bool)
}

// Search scores q against snap and returns at most topN results plus the
// number of matching documents. A query without terms matches nothing.
func Search(snap Snapshot, q *parser.Query, topN int) ([]ScoredResult, int, error) {
	if topN < 0 {
		return nil, 0, fmt.Errorf("%w: top_n must be >= 0, got %d", apperrors.ErrInvalidInput, topN)
	}
	if q.Empty() {
		return []ScoredResult{}, 0, nil
	}
	postingsPerTerm := make(map[string]index.PostingList, len(q.Terms))
	for _, term := range q.Terms {
		postings, err := snap.Postings(q.Field, term)
		if err != nil {
			return nil, 0, fmt.Errorf("searching term %q: %w", term, err)
		}
		if len(postings) > 0 {
			postingsPerTerm[term] = postings
		}
	}
	ranked, total := ranker.Rank(postingsPerTerm, topN)
	results := make([]ScoredResult, 0, len(ranked))
	for _, doc := range ranked {
		r := ScoredResult{DocID: doc.DocID, Path: doc.DocID, Score: doc.Score}
		if stored, ok := snap.Stored(doc.DocID); ok {
			r.Title = stored.Title
			r.Path = stored.Path
			r.StoredText = stored.StoredText
		}
		results = append(results, r)
	}
	return results, total, nil
}

type Executor struct {
	indexDir     string
	defaultField string
	mu           sync.RWMutex
	snap         *store.Snapshot
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates an Executor for the index in indexDir. No snapshot is loaded
// until Reload succeeds.
func New(indexDir, defaultField string, m *metrics.Metrics) *Executor {
	return &Executor{
		indexDir:     indexDir,
		defaultField: defaultField,
		metrics:      m,
		logger:       slog.Default().With("component", "query-executor", "index_dir", indexDir),
	}
}

// Reload opens the latest committed snapshot and swaps it in. The previous
// snapshot is closed once in-flight searches have released it. It returns
// the generation now being served.
func (e *Executor) Reload() (int64, error) {
	snap, err := store.Open(e.indexDir)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	old := e.snap
	if old != nil && old.Generation() == snap.Generation() {
		e.mu.Unlock()
		snap.Close()
		return old.Generation(), nil
	}
	e.snap = snap
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if e.metrics != nil {
		e.metrics.IndexDocCount.Set(float64(snap.DocCount()))
		e.metrics.IndexGeneration.Set(float64(snap.Generation()))
	}
	e.logger.Info("index snapshot loaded",
		"generation", snap.Generation(),
		"docs", snap.DocCount(),
		"terms", snap.Terms(),
	)
	return snap.Generation(), nil
}

// Generation returns the generation being served, or 0 before the first
// successful Reload.
func (e *Executor) Generation() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap == nil {
		return 0
	}
	return e.snap.Generation()
}

func (e *Executor) Ready() bool {
	return e.Generation() != 0
}

func (e *Executor) DefaultField() string {
	return e.defaultField
}

// Search runs a parsed query against the loaded snapshot.
func (e *Executor) Search(ctx context.Context, q *parser.Query, topN int) (*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexNotOpen, e.indexDir)
	}
	results, total, err := Search(e.snap, q, topN)
	e.observe(err, len(results))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("query executed",
		"query", q.Raw,
		"field", q.Field,
		"terms", q.Terms,
		"hits", total,
		"results", len(results),
	)
	return &SearchResult{
		Query:      q.Raw,
		Field:      q.Field,
		Generation: e.snap.Generation(),
		TotalHits:  total,
		Results:    results,
	}, nil
}

// Parse parses raw against field, or the default field when field is empty,
// using the schema of the loaded snapshot.
func (e *Executor) Parse(raw, field string) (*parser.Query, error) {
	if field == "" {
		field = e.defaultField
	}
	e.mu.RLock()
	snap := e.snap
	var schema index.Schema
	if snap != nil {
		schema = snap.Schema()
	}
	e.mu.RUnlock()
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexNotOpen, e.indexDir)
	}
	return parser.Parse(raw, field, schema)
}

// Query parses raw and runs it.
func (e *Executor) Query(ctx context.Context, raw, field string, topN int) (*SearchResult, error) {
	q, err := e.Parse(raw, field)
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, q, topN)
}

// Close releases the loaded snapshot.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		return nil
	}
	err := e.snap.Close()
	e.snap = nil
	return err
}

func (e *Executor) observe(err error, results int) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		if !errors.Is(err, apperrors.ErrInvalidInput) {
			e.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		}
		return
	}
	if results == 0 {
		e.metrics.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
	} else {
		e.metrics.SearchQueriesTotal.WithLabelValues("hit").Inc()
	}
	e.metrics.SearchResultsCount.Observe(float64(results))
}
