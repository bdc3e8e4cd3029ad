// Package tracing records nested timings for multi-stage operations such as
// an index rebuild. Spans travel in the context and the finished tree is
// written to the structured log.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forsc/docsearch/pkg/logger"
)

type contextKey struct{}

type Span struct {
	name     string
	traceID  string
	start    time.Time
	duration time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []any
}

// Start opens a span named name. It becomes a child of the span in ctx if
// there is one; otherwise it is a root whose trace ID is the request ID in
// ctx or a fresh UUID.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{name: name, start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.traceID = parent.traceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else if id := logger.RequestID(ctx); id != "" {
		s.traceID = id
	} else {
		s.traceID = uuid.NewString()
	}
	return context.WithValue(ctx, contextKey{}, s), s
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

func (s *Span) End() {
	s.mu.Lock()
	s.duration = time.Since(s.start)
	s.mu.Unlock()
}

// Set attaches key/value pairs reported with the span.
func (s *Span) Set(kv ...any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, kv...)
	s.mu.Unlock()
}

func (s *Span) Name() string    { return s.name }
func (s *Span) TraceID() string { return s.traceID }

func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes one debug record per span, parents before children.
func (s *Span) Log(l *slog.Logger) {
	s.log(l, "")
}

func (s *Span) log(l *slog.Logger, parent string) {
	s.mu.Lock()
	attrs := append([]any{
		"trace_id", s.traceID,
		"span", s.name,
		"duration_ms", s.duration.Milliseconds(),
	}, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()
	if parent != "" {
		attrs = append(attrs, "parent", parent)
	}
	l.Debug("span", attrs...)
	for _, c := range children {
		c.log(l, s.name)
	}
}
