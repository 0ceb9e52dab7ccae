package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qstation/qstation/internal/api"
	"github.com/qstation/qstation/internal/tasks"
)

// fakeLister scripts QueryTasks responses and can block to simulate a slow
// NAS while a second refresh comes in.
type fakeLister struct {
	mu      sync.Mutex
	calls   int
	tasks   []tasks.Task
	err     error
	release chan struct{}
}

func (f *fakeLister) QueryTasks(ctx context.Context, _ api.QueryParams) (*api.QueryResult, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &api.QueryResult{Tasks: f.tasks}, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(title, message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

func TestRefreshSummarizesTasks(t *testing.T) {
	lister := &fakeLister{tasks: []tasks.Task{
		{ID: "a", Status: tasks.StatusDownloading, Progress: 40},
		{ID: "b", Status: tasks.StatusFinished, Progress: 100},
		{ID: "c", Status: tasks.StatusPaused, Progress: 10},
	}}
	notifier := &recordingNotifier{}
	m := New(lister, WithNotifier(notifier))

	summary, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped {
		t.Error("first refresh should not be skipped")
	}
	if summary.ActiveCount != 1 {
		t.Errorf("ActiveCount = %d, want 1", summary.ActiveCount)
	}
	if summary.AvgProgress != 50 {
		t.Errorf("AvgProgress = %v, want 50", summary.AvgProgress)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notifications = %v, want one summary", notifier.messages)
	}
}

func TestRefreshSkipsWhileInFlight(t *testing.T) {
	lister := &fakeLister{release: make(chan struct{})}
	m := New(lister)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Refresh(context.Background())
	}()

	// Wait for the first refresh to reach the lister.
	deadline := time.After(2 * time.Second)
	for lister.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first refresh never started")
		case <-time.After(time.Millisecond):
		}
	}

	summary, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Skipped {
		t.Error("overlapping refresh should be skipped")
	}

	close(lister.release)
	<-done

	if got := lister.callCount(); got != 1 {
		t.Errorf("lister called %d times, want 1 (skip avoids the network)", got)
	}
}

func TestRefreshTreatsCancellationAsBenign(t *testing.T) {
	lister := &fakeLister{err: context.Canceled}
	m := New(lister)

	summary, err := m.Refresh(context.Background())
	if err != nil {
		t.Errorf("cancellation should settle with nil error, got %v", err)
	}
	if summary == nil || summary.Skipped {
		t.Errorf("summary = %+v, want empty non-skipped summary", summary)
	}
}

func TestRefreshSurfacesRealErrors(t *testing.T) {
	wantErr := errors.New("NAS unreachable")
	lister := &fakeLister{err: wantErr}
	m := New(lister)

	if _, err := m.Refresh(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestRefreshAllowsNextAfterCompletion(t *testing.T) {
	lister := &fakeLister{}
	m := New(lister)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		summary, err := m.Refresh(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if summary.Skipped {
			t.Errorf("refresh %d skipped despite no overlap", i)
		}
	}
	if got := lister.callCount(); got != 3 {
		t.Errorf("lister called %d times, want 3", got)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	lister := &fakeLister{}
	m := New(lister, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for lister.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("ticker never fired enough refreshes")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestSummarizeEmptyList(t *testing.T) {
	summary := summarize(nil)
	if summary.ActiveCount != 0 || summary.AvgProgress != 0 {
		t.Errorf("summary = %+v, want zeroes", summary)
	}
}

func TestFormatSummary(t *testing.T) {
	if got := formatSummary(0, 2, 100); got != "all downloads finished" {
		t.Errorf("formatSummary(0, 2, 100) = %q", got)
	}
	if got := formatSummary(2, 5, 37); got != "2/5 active, 37% overall" {
		t.Errorf("formatSummary(2, 5, 37) = %q", got)
	}
}
