// Package poll drives the periodic task-status refresh.
package poll

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/qstation/qstation/internal/api"
	"github.com/qstation/qstation/internal/log"
	"github.com/qstation/qstation/internal/tasks"
)

// TaskLister is the slice of the API client the monitor needs.
type TaskLister interface {
	QueryTasks(ctx context.Context, params api.QueryParams) (*api.QueryResult, error)
}

// Notifier receives human-facing progress summaries. The default writes
// them to the log; a UI shell can substitute its own sink.
type Notifier interface {
	Notify(title, message string)
}

type logNotifier struct{}

func (logNotifier) Notify(title, message string) {
	log.Info("notify").Str("title", title).Msg(message)
}

// Summary aggregates one refresh.
type Summary struct {
	// Skipped is true when a refresh was already in flight and this call
	// was dropped instead of queued.
	Skipped bool

	Tasks       []tasks.Task
	AvgProgress float64
	ActiveCount int
}

// Monitor periodically lists tasks and reports a progress summary. Refresh
// is idempotent and safe to invoke from overlapping tickers: a call issued
// while another is outstanding is skipped, never queued. Callers wanting
// the abort-the-old policy instead cancel the context of the earlier call.
type Monitor struct {
	client   TaskLister
	notifier Notifier
	interval time.Duration
	inFlight atomic.Bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithNotifier substitutes the summary sink.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithInterval sets the refresh period for Run.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// New creates a monitor around the given client.
func New(client TaskLister, opts ...Option) *Monitor {
	m := &Monitor{
		client:   client,
		notifier: logNotifier{},
		interval: 6 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh lists tasks once and notifies the summary. A concurrent refresh
// returns Skipped without touching the network. Cancellation settles
// silently with a nil error and no summary noise.
func (m *Monitor) Refresh(ctx context.Context) (*Summary, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return &Summary{Skipped: true}, nil
	}
	defer m.inFlight.Store(false)

	result, err := m.client.QueryTasks(ctx, api.QueryParams{})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug("poll").Msg("refresh cancelled")
			return &Summary{}, nil
		}
		return nil, err
	}

	summary := summarize(result.Tasks)
	if len(summary.Tasks) > 0 {
		m.notifier.Notify("Downloads",
			formatSummary(summary.ActiveCount, len(summary.Tasks), summary.AvgProgress))
	}
	return summary, nil
}

// Run refreshes on a ticker until ctx is cancelled. Read failures are
// logged and the loop continues on the next tick.
func (m *Monitor) Run(ctx context.Context) {
	// tick immediately on start
	if _, err := m.Refresh(ctx); err != nil {
		log.Error("poll").Err(err).Msg("refresh failed")
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil {
				log.Error("poll").Err(err).Msg("refresh failed")
			}
		}
	}
}

func summarize(list []tasks.Task) *Summary {
	summary := &Summary{Tasks: list}
	if len(list) == 0 {
		return summary
	}

	var total float64
	for _, t := range list {
		total += t.Progress
		switch t.Status {
		case tasks.StatusDownloading, tasks.StatusSeeding, tasks.StatusChecking,
			tasks.StatusExtracting, tasks.StatusFinishing:
			summary.ActiveCount++
		}
	}
	summary.AvgProgress = math.Round(total / float64(len(list)))
	return summary
}

func formatSummary(active, total int, avg float64) string {
	if active == 0 && avg >= 100 {
		return "all downloads finished"
	}
	return fmt.Sprintf("%d/%d active, %.0f%% overall", active, total, avg)
}
