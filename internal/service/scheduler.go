package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/observability"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"go.uber.org/zap"
)

// Processor handles one notification popped from the scheduler.
type Processor interface {
	Process(ctx context.Context, notification domain.Notification) error
}

type ProcessorFunc func(ctx context.Context, notification domain.Notification) error

func (f ProcessorFunc) Process(ctx context.Context, notification domain.Notification) error {
	return f(ctx, notification)
}

// Enqueuer accepts notifications for dispatch.
type Enqueuer interface {
	Enqueue(notification domain.Notification)
}

// PriorityScheduler keeps one FIFO queue per priority and drains them on a
// single goroutine, always taking the head of the most urgent non-empty queue.
// A continuous URGENT stream starves LOW.
type PriorityScheduler struct {
	notifications repository.NotificationRepository
	processor     Processor
	logger        *zap.Logger
	metrics       *observability.Metrics

	mu       sync.Mutex
	queues   map[domain.Priority][]domain.Notification
	started  bool
	draining bool
	ctx      context.Context
	drains   sync.WaitGroup
}

var _ Enqueuer = (*PriorityScheduler)(nil)

func NewPriorityScheduler(
	notifications repository.NotificationRepository,
	processor Processor,
	logger *zap.Logger,
) (*PriorityScheduler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	queues := make(map[domain.Priority][]domain.Notification, len(domain.Priorities))
	for _, p := range domain.Priorities {
		queues[p] = nil
	}

	return &PriorityScheduler{
		notifications: notifications,
		processor:     processor,
		logger:        logger,
		queues:        queues,
	}, nil
}

func (s *PriorityScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start loads every PENDING notification in (priority desc, createdAt asc)
// order and begins draining. Notifications enqueued before Start are kept.
func (s *PriorityScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	pending, err := s.notifications.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending notifications: %w", err)
	}

	s.mu.Lock()
	for _, n := range pending {
		s.pushLocked(n)
	}
	s.ctx = ctx
	s.started = true
	s.reportDepthsLocked()
	s.startDrainLocked()
	s.mu.Unlock()

	s.logger.Info("priority scheduler started", zap.Int("pending", len(pending)))
	return nil
}

// Enqueue never blocks on delivery.
func (s *PriorityScheduler) Enqueue(notification domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pushLocked(notification)
	s.reportDepthsLocked()
	if s.started {
		s.startDrainLocked()
	}
}

func (s *PriorityScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	return total
}

func (s *PriorityScheduler) Depths() map[domain.Priority]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[domain.Priority]int, len(s.queues))
	for p, q := range s.queues {
		depths[p] = len(q)
	}
	return depths
}

// Wait blocks until the active drain, if any, exits.
func (s *PriorityScheduler) Wait() {
	s.drains.Wait()
}

func (s *PriorityScheduler) pushLocked(notification domain.Notification) {
	p := notification.Priority
	if !p.IsValid() {
		p = domain.PriorityLow
	}
	s.queues[p] = append(s.queues[p], notification)
}

func (s *PriorityScheduler) startDrainLocked() {
	if s.draining {
		return
	}
	s.draining = true
	s.drains.Add(1)
	go s.drain(s.ctx)
}

func (s *PriorityScheduler) drain(ctx context.Context) {
	defer s.drains.Done()

	for {
		s.mu.Lock()
		var next domain.Notification
		ok := ctx.Err() == nil
		if ok {
			next, ok = s.popLocked()
		}
		if !ok {
			// Cleared under the same lock that observed emptiness so a
			// concurrent Enqueue always sees draining=false and restarts it.
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.reportDepthsLocked()
		s.mu.Unlock()

		if err := s.processor.Process(ctx, next); err != nil {
			s.logger.Error("failed to process notification",
				zap.String("notificationId", next.ID),
				zap.String("priority", next.Priority.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *PriorityScheduler) popLocked() (domain.Notification, bool) {
	for _, p := range domain.Priorities {
		q := s.queues[p]
		if len(q) == 0 {
			continue
		}
		head := q[0]
		q[0] = domain.Notification{}
		s.queues[p] = q[1:]
		return head, true
	}
	return domain.Notification{}, false
}

func (s *PriorityScheduler) reportDepthsLocked() {
	if s.metrics == nil {
		return
	}
	for p, q := range s.queues {
		s.metrics.SetQueueDepth(p.String(), len(q))
	}
}
