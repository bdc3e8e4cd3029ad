// Package notify publishes index.complete events to Kafka after each
// successful rebuild so that other processes serving the same index can
// reload it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/forsc/docsearch/internal/indexer"
	"github.com/forsc/docsearch/pkg/kafka"
	"github.com/forsc/docsearch/pkg/metrics"
	"github.com/forsc/docsearch/pkg/resilience"
)

// IndexCompleteEvent is the payload of an index.complete message.
type IndexCompleteEvent struct {
	IndexDir    string    `json:"index_dir"`
	Generation  int64     `json:"generation"`
	Indexed     int       `json:"indexed"`
	Skipped     int       `json:"skipped"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

type publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Notifier publishes rebuild events with retry behind a circuit breaker, so
// an unreachable broker costs one fast failure per rebuild once tripped.
type Notifier struct {
	pub     publisher
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(pub publisher, m *metrics.Metrics) *Notifier {
	n := &Notifier{
		pub:     pub,
		retry:   resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		metrics: m,
		logger:  slog.Default().With("component", "rebuild-notifier"),
	}
	n.breaker = resilience.NewCircuitBreaker("kafka-index-complete", resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(_ string, _, to resilience.State) {
			if m != nil {
				m.NotifierCircuitState.Set(float64(to))
			}
		},
	})
	return n
}

// NotifyRebuild implements indexer.Notifier.
func (n *Notifier) NotifyRebuild(ctx context.Context, report *indexer.RebuildReport) error {
	event := IndexCompleteEvent{
		IndexDir:    report.IndexDir,
		Generation:  report.Generation,
		Indexed:     report.Indexed,
		Skipped:     report.SkippedCount(),
		DurationMS:  report.Duration.Milliseconds(),
		CompletedAt: report.StartedAt.Add(report.Duration).UTC(),
	}
	err := n.breaker.Execute(func() error {
		return resilience.Retry(ctx, "publish index.complete", n.retry, func() error {
			return n.pub.Publish(ctx, kafka.Event{Key: report.IndexDir, Value: event})
		})
	})
	n.count(err)
	if err != nil {
		return err
	}
	n.logger.Info("index.complete published", "generation", report.Generation)
	return nil
}

func (n *Notifier) count(err error) {
	if n.metrics == nil {
		return
	}
	status := "published"
	if err != nil {
		status = "failed"
	}
	n.metrics.NotificationsTotal.WithLabelValues(status).Inc()
}
