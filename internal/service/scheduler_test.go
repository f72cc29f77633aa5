package service

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"go.uber.org/zap"
)

type orderRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *orderRecorder) Process(ctx context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, n.ID)
	return nil
}

func (r *orderRecorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func queued(id string, p domain.Priority) domain.Notification {
	return domain.Notification{ID: id, Priority: p}
}

func TestPrioritySchedulerDrainsHighestPriorityFirst(t *testing.T) {
	t.Parallel()

	recorder := &orderRecorder{}
	scheduler, err := NewPriorityScheduler(newMemNotificationRepo(), recorder, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPriorityScheduler() error = %v", err)
	}

	// Not started yet: enqueue only buffers.
	scheduler.Enqueue(queued("low-1", domain.PriorityLow))
	scheduler.Enqueue(queued("urgent-1", domain.PriorityUrgent))
	scheduler.Enqueue(queued("medium-1", domain.PriorityMedium))
	scheduler.Enqueue(queued("high-1", domain.PriorityHigh))
	scheduler.Enqueue(queued("urgent-2", domain.PriorityUrgent))
	scheduler.Enqueue(queued("unknown-1", domain.Priority("WHENEVER")))

	if got := scheduler.Len(); got != 6 {
		t.Fatalf("Len() = %d, want 6", got)
	}
	depths := scheduler.Depths()
	if depths[domain.PriorityUrgent] != 2 || depths[domain.PriorityLow] != 2 {
		t.Fatalf("Depths() = %v", depths)
	}
	if len(recorder.order()) != 0 {
		t.Fatal("nothing should be processed before Start")
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	scheduler.Wait()

	want := []string{"urgent-1", "urgent-2", "high-1", "medium-1", "low-1", "unknown-1"}
	if got := recorder.order(); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if scheduler.Len() != 0 {
		t.Fatalf("Len() after drain = %d, want 0", scheduler.Len())
	}
}

func TestPrioritySchedulerStartLoadsPending(t *testing.T) {
	t.Parallel()

	low := testNotification("low", domain.ChannelInApp)
	low.Status = domain.StatusPending
	low.Priority = domain.PriorityLow
	low.CreatedAt = testNow

	urgent := testNotification("urgent", domain.ChannelInApp)
	urgent.Status = domain.StatusPending
	urgent.Priority = domain.PriorityUrgent
	urgent.CreatedAt = testNow.Add(1)

	done := testNotification("done", domain.ChannelInApp)
	done.Status = domain.StatusDelivered

	recorder := &orderRecorder{}
	scheduler, err := NewPriorityScheduler(newMemNotificationRepo(low, urgent, done), recorder, nil)
	if err != nil {
		t.Fatalf("NewPriorityScheduler() error = %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	scheduler.Wait()

	want := []string{"urgent", "low"}
	if got := recorder.order(); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestPrioritySchedulerEnqueueAfterStartRestartsDrain(t *testing.T) {
	t.Parallel()

	recorder := &orderRecorder{}
	scheduler, err := NewPriorityScheduler(newMemNotificationRepo(), recorder, nil)
	if err != nil {
		t.Fatalf("NewPriorityScheduler() error = %v", err)
	}
	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	scheduler.Wait()

	for i, id := range []string{"a", "b", "c"} {
		scheduler.Enqueue(queued(id, domain.PriorityMedium))
		scheduler.Wait()
		if got := len(recorder.order()); got != i+1 {
			t.Fatalf("processed = %d, want %d", got, i+1)
		}
	}
}

func TestPrioritySchedulerStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	recorder := &orderRecorder{}
	processor := ProcessorFunc(func(c context.Context, n domain.Notification) error {
		cancel()
		return recorder.Process(c, n)
	})

	scheduler, err := NewPriorityScheduler(newMemNotificationRepo(), processor, nil)
	if err != nil {
		t.Fatalf("NewPriorityScheduler() error = %v", err)
	}
	scheduler.Enqueue(queued("a", domain.PriorityHigh))
	scheduler.Enqueue(queued("b", domain.PriorityHigh))

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	scheduler.Wait()

	if got := recorder.order(); len(got) != 1 {
		t.Fatalf("processed = %v, want exactly one before cancellation", got)
	}
	if scheduler.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 left queued", scheduler.Len())
	}
}

func TestNewPrioritySchedulerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPriorityScheduler(nil, &orderRecorder{}, nil); err == nil {
		t.Fatal("expected error for nil repository")
	}
	if _, err := NewPriorityScheduler(newMemNotificationRepo(), nil, nil); err == nil {
		t.Fatal("expected error for nil processor")
	}
}
