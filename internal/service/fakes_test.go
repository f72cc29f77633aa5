package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"github.com/kursadbilgin/signal-notifier/internal/webhook"
)

// memNotificationRepo is a stateful NotificationRepository with the same
// conditional-update semantics as the gorm implementation.
type memNotificationRepo struct {
	mu    sync.Mutex
	items map[string]*domain.Notification
	seq   int
}

func newMemNotificationRepo(items ...domain.Notification) *memNotificationRepo {
	r := &memNotificationRepo{items: map[string]*domain.Notification{}}
	for i := range items {
		n := items[i]
		r.items[n.ID] = &n
	}
	return r
}

func (r *memNotificationRepo) get(id string) domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[id]
}

func (r *memNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[n.ID]; ok {
		return domain.ErrConflict
	}
	r.seq++
	stored := *n
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Unix(int64(r.seq), 0)
	}
	r.items[n.ID] = &stored
	return nil
}

func (r *memNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *n
	return &out, nil
}

func (r *memNotificationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.items {
		if params.RecipientID != "" && n.RecipientID != params.RecipientID {
			continue
		}
		if params.Status != nil && n.Status != *params.Status {
			continue
		}
		if params.UnreadOnly && n.Read {
			continue
		}
		out = append(out, *n)
	}
	return out, int64(len(out)), nil
}

func (r *memNotificationRepo) ListPending(ctx context.Context) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.items {
		if n.Status == domain.StatusPending {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memNotificationRepo) transition(id string, to domain.Status, from ...domain.Status) bool {
	n, ok := r.items[id]
	if !ok {
		return false
	}
	for _, f := range from {
		if n.Status == f {
			n.Status = to
			n.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

func (r *memNotificationRepo) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(id, domain.StatusProcessing, domain.StatusPending), nil
}

func (r *memNotificationRepo) ResetForRetry(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.transition(id, domain.StatusPending, domain.StatusPending, domain.StatusProcessing) {
		return false, nil
	}
	r.items[id].RetryCount++
	r.items[id].LastRetryAt = &at
	return true, nil
}

func (r *memNotificationRepo) Reopen(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusPending
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memNotificationRepo) Finalize(ctx context.Context, id string, status domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(id, status, domain.StatusPending, domain.StatusProcessing), nil
}

func (r *memNotificationRepo) ExpireIfPending(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(id, domain.StatusFailed, domain.StatusPending), nil
}

func (r *memNotificationRepo) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.items {
		if n.Status == domain.StatusPending && n.IsExpired(now) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (r *memNotificationRepo) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.items {
		if n.Status == domain.StatusProcessing && n.UpdatedAt.Before(before) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memNotificationRepo) ReleaseStale(ctx context.Context, id string, before time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.Status != domain.StatusProcessing || !n.UpdatedAt.Before(before) {
		return false, nil
	}
	return r.transition(id, domain.StatusPending, domain.StatusProcessing), nil
}

func (r *memNotificationRepo) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.RecipientID != recipientID {
		return domain.ErrNotFound
	}
	n.Read = true
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	return nil
}

func (r *memNotificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			n.ReadAt = &at
			count++
		}
	}
	return count, nil
}

func (r *memNotificationRepo) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

// memDeliveryRepo is a stateful DeliveryRepository.
type memDeliveryRepo struct {
	mu    sync.Mutex
	items map[string]*domain.DeliveryRecord
}

func newMemDeliveryRepo(items ...domain.DeliveryRecord) *memDeliveryRepo {
	r := &memDeliveryRepo{items: map[string]*domain.DeliveryRecord{}}
	for i := range items {
		rec := items[i]
		r.items[rec.ID] = &rec
	}
	return r
}

func (r *memDeliveryRepo) byChannel(notificationID string, channel domain.Channel) *domain.DeliveryRecord {
	for _, rec := range r.items {
		if rec.NotificationID == notificationID && rec.Channel == channel {
			return rec
		}
	}
	return nil
}

func (r *memDeliveryRepo) channel(notificationID string, channel domain.Channel) domain.DeliveryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.byChannel(notificationID, channel)
	if rec == nil {
		return domain.DeliveryRecord{}
	}
	return *rec
}

func (r *memDeliveryRepo) Create(ctx context.Context, record *domain.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byChannel(record.NotificationID, record.Channel) != nil {
		return domain.ErrConflict
	}
	stored := *record
	r.items[record.ID] = &stored
	return nil
}

func (r *memDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (r *memDeliveryRepo) GetByNotificationAndChannel(ctx context.Context, notificationID string, channel domain.Channel) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.byChannel(notificationID, channel)
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (r *memDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, rec := range r.items {
		if rec.NotificationID == notificationID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func (r *memDeliveryRepo) update(id string, from domain.DeliveryStatus, apply func(rec *domain.DeliveryRecord)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[id]
	if !ok || rec.Status != from {
		return false
	}
	apply(rec)
	rec.UpdatedAt = time.Now().UTC()
	return true
}

func (r *memDeliveryRepo) Transition(ctx context.Context, id string, from, to domain.DeliveryStatus) (bool, error) {
	return r.update(id, from, func(rec *domain.DeliveryRecord) { rec.Status = to }), nil
}

func (r *memDeliveryRepo) MarkDelivered(ctx context.Context, id string, externalID *string, at time.Time) (bool, error) {
	return r.update(id, domain.DeliveryStatusSending, func(rec *domain.DeliveryRecord) {
		rec.Status = domain.DeliveryStatusDelivered
		rec.ExternalID = externalID
		rec.DeliveredAt = &at
		rec.ErrorMessage = nil
	}), nil
}

func (r *memDeliveryRepo) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, message string) (bool, error) {
	return r.update(id, domain.DeliveryStatusSending, func(rec *domain.DeliveryRecord) {
		rec.Status = domain.DeliveryStatusRetryScheduled
		rec.RetryCount = retryCount
		rec.NextRetryAt = &nextRetryAt
		rec.ErrorMessage = &message
	}), nil
}

func (r *memDeliveryRepo) MarkFailed(ctx context.Context, id string, retryCount int, message string) (bool, error) {
	return r.update(id, domain.DeliveryStatusSending, func(rec *domain.DeliveryRecord) {
		rec.Status = domain.DeliveryStatusFailed
		rec.RetryCount = retryCount
		rec.NextRetryAt = nil
		rec.ErrorMessage = &message
	}), nil
}

func (r *memDeliveryRepo) Requeue(ctx context.Context, id string) (bool, error) {
	return r.update(id, domain.DeliveryStatusFailed, func(rec *domain.DeliveryRecord) {
		rec.Status = domain.DeliveryStatusSending
		rec.RetryCount = 0
		rec.NextRetryAt = nil
	}), nil
}

func (r *memDeliveryRepo) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, rec := range r.items {
		if rec.Status == domain.DeliveryStatusRetryScheduled && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	return out, nil
}

func (r *memDeliveryRepo) FailOpenForNotification(ctx context.Context, notificationID, message string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, rec := range r.items {
		if rec.NotificationID != notificationID || rec.Status.IsTerminal() {
			continue
		}
		rec.Status = domain.DeliveryStatusFailed
		msg := message
		rec.ErrorMessage = &msg
		count++
	}
	return count, nil
}

func (r *memDeliveryRepo) ReleaseStale(ctx context.Context, before, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, rec := range r.items {
		if rec.Status != domain.DeliveryStatusSending || !rec.UpdatedAt.Before(before) {
			continue
		}
		due := now
		rec.Status = domain.DeliveryStatusRetryScheduled
		rec.NextRetryAt = &due
		count++
	}
	return count, nil
}

type publishedEvent struct {
	name    string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, name string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{name: name, payload: payload})
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.name)
	}
	return out
}

func (p *recordingPublisher) count(name string) int {
	n := 0
	for _, got := range p.names() {
		if got == name {
			n++
		}
	}
	return n
}

type recordingEnqueuer struct {
	mu     sync.Mutex
	queued []domain.Notification
}

func (e *recordingEnqueuer) Enqueue(n domain.Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queued = append(e.queued, n)
}

func (e *recordingEnqueuer) ids() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.queued))
	for _, n := range e.queued {
		out = append(out, n.ID)
	}
	return out
}

type fakeTemplateRepo struct {
	createFn  func(ctx context.Context, t *domain.NotificationTemplate) error
	getByIDFn func(ctx context.Context, id string) (*domain.NotificationTemplate, error)
}

func (f *fakeTemplateRepo) Create(ctx context.Context, t *domain.NotificationTemplate) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, t)
}

func (f *fakeTemplateRepo) GetByID(ctx context.Context, id string) (*domain.NotificationTemplate, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

type fakePreferenceRepo struct {
	getFn                 func(ctx context.Context, userID, eventType string) (*domain.NotificationPreference, error)
	upsertFn              func(ctx context.Context, p *domain.NotificationPreference) error
	listEnabledForEventFn func(ctx context.Context, eventType string) ([]domain.NotificationPreference, error)
}

func (f *fakePreferenceRepo) ListByUser(ctx context.Context, userID string) ([]domain.NotificationPreference, error) {
	return nil, nil
}

func (f *fakePreferenceRepo) Get(ctx context.Context, userID, eventType string) (*domain.NotificationPreference, error) {
	if f.getFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getFn(ctx, userID, eventType)
}

func (f *fakePreferenceRepo) Upsert(ctx context.Context, p *domain.NotificationPreference) error {
	if f.upsertFn == nil {
		return nil
	}
	return f.upsertFn(ctx, p)
}

func (f *fakePreferenceRepo) Delete(ctx context.Context, userID, eventType string) error {
	return nil
}

func (f *fakePreferenceRepo) ListEnabledForEvent(ctx context.Context, eventType string) ([]domain.NotificationPreference, error) {
	if f.listEnabledForEventFn == nil {
		return nil, nil
	}
	return f.listEnabledForEventFn(ctx, eventType)
}

func (f *fakePreferenceRepo) FindEmailAddress(ctx context.Context, userID string) (string, error) {
	return "", domain.ErrNotFound
}

// memWebhookRepo is a stateful WebhookRepository.
type memWebhookRepo struct {
	mu    sync.Mutex
	items map[string]*domain.WebhookRegistration
}

func newMemWebhookRepo(items ...domain.WebhookRegistration) *memWebhookRepo {
	r := &memWebhookRepo{items: map[string]*domain.WebhookRegistration{}}
	for i := range items {
		w := items[i]
		r.items[w.ID] = &w
	}
	return r
}

func (r *memWebhookRepo) get(id string) domain.WebhookRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[id]
}

func (r *memWebhookRepo) Create(ctx context.Context, w *domain.WebhookRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *w
	r.items[w.ID] = &stored
	return nil
}

func (r *memWebhookRepo) GetByID(ctx context.Context, id string) (*domain.WebhookRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *w
	return &out, nil
}

func (r *memWebhookRepo) filter(keep func(w *domain.WebhookRegistration) bool) []domain.WebhookRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookRegistration
	for _, w := range r.items {
		if keep(w) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memWebhookRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error) {
	return r.filter(func(w *domain.WebhookRegistration) bool { return w.OwnerID == ownerID }), nil
}

func (r *memWebhookRepo) ListSubscribed(ctx context.Context, eventName string) ([]domain.WebhookRegistration, error) {
	return r.filter(func(w *domain.WebhookRegistration) bool {
		return w.Deliverable() && w.Subscribes(eventName)
	}), nil
}

func (r *memWebhookRepo) ListDeliverableByOwner(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error) {
	return r.filter(func(w *domain.WebhookRegistration) bool {
		return w.OwnerID == ownerID && w.Deliverable()
	}), nil
}

func (r *memWebhookRepo) Save(ctx context.Context, w *domain.WebhookRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[w.ID]; !ok {
		return domain.ErrNotFound
	}
	stored := *w
	r.items[w.ID] = &stored
	return nil
}

func (r *memWebhookRepo) GetByVerificationToken(ctx context.Context, token string) (*domain.WebhookRegistration, error) {
	found := r.filter(func(w *domain.WebhookRegistration) bool {
		return w.VerificationToken != nil && *w.VerificationToken == token
	})
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	return &found[0], nil
}

func (r *memWebhookRepo) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.VerificationToken = &token
	w.VerificationExpiresAt = &expiresAt
	return nil
}

func (r *memWebhookRepo) MarkVerified(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.Verified = true
	w.VerificationToken = nil
	w.VerificationExpiresAt = nil
	return nil
}

func (r *memWebhookRepo) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.items[id]
	w.FailureCount = 0
	w.LastSuccessAt = &at
	return nil
}

func (r *memWebhookRepo) RecordFailure(ctx context.Context, id string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.items[id]
	w.FailureCount++
	w.LastFailureAt = &at
	return w.FailureCount, nil
}

// memWebhookDeliveryRepo is a stateful WebhookDeliveryRepository.
type memWebhookDeliveryRepo struct {
	mu    sync.Mutex
	items map[string]*domain.WebhookDelivery
}

func newMemWebhookDeliveryRepo() *memWebhookDeliveryRepo {
	return &memWebhookDeliveryRepo{items: map[string]*domain.WebhookDelivery{}}
}

func (r *memWebhookDeliveryRepo) all() []domain.WebhookDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.WebhookDelivery, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WebhookID < out[j].WebhookID })
	return out
}

func (r *memWebhookDeliveryRepo) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *d
	r.items[d.ID] = &stored
	return nil
}

func (r *memWebhookDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (r *memWebhookDeliveryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	var out []domain.WebhookDelivery
	for _, d := range r.all() {
		if d.Status == domain.WebhookDeliveryPending && !d.NextAttemptAt.After(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memWebhookDeliveryRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.items[id]
	if d == nil || d.Status != domain.WebhookDeliveryPending || d.NextAttemptAt.After(now) {
		return false, nil
	}
	d.Status = domain.WebhookDeliverySending
	d.Attempts++
	return true, nil
}

func (r *memWebhookDeliveryRepo) sending(id string, apply func(d *domain.WebhookDelivery)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.items[id]
	if d != nil && d.Status == domain.WebhookDeliverySending {
		apply(d)
	}
	return nil
}

func (r *memWebhookDeliveryRepo) Defer(ctx context.Context, id string, next time.Time) error {
	return r.sending(id, func(d *domain.WebhookDelivery) {
		d.Status = domain.WebhookDeliveryPending
		d.Attempts--
		d.NextAttemptAt = next
	})
}

func (r *memWebhookDeliveryRepo) ScheduleRetry(ctx context.Context, id string, next time.Time, message string, statusCode *int) error {
	return r.sending(id, func(d *domain.WebhookDelivery) {
		d.Status = domain.WebhookDeliveryPending
		d.NextAttemptAt = next
		d.LastError = &message
		d.LastStatusCode = statusCode
	})
}

func (r *memWebhookDeliveryRepo) MarkDelivered(ctx context.Context, id string, statusCode *int, at time.Time) error {
	return r.sending(id, func(d *domain.WebhookDelivery) {
		d.Status = domain.WebhookDeliveryDelivered
		d.DeliveredAt = &at
		d.LastStatusCode = statusCode
	})
}

func (r *memWebhookDeliveryRepo) MarkFailed(ctx context.Context, id string, message string, statusCode *int) error {
	return r.sending(id, func(d *domain.WebhookDelivery) {
		d.Status = domain.WebhookDeliveryFailed
		d.LastError = &message
		d.LastStatusCode = statusCode
	})
}

func (r *memWebhookDeliveryRepo) ListByWebhook(ctx context.Context, webhookID string, page, pageSize int) ([]domain.WebhookDelivery, int64, error) {
	var out []domain.WebhookDelivery
	for _, d := range r.all() {
		if d.WebhookID == webhookID {
			out = append(out, d)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memWebhookDeliveryRepo) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// fakeSender records requests and answers with sendFn.
type fakeSender struct {
	mu       sync.Mutex
	requests []webhook.Request
	sendFn   func(ctx context.Context, req webhook.Request) (*webhook.Response, error)
}

func (f *fakeSender) Send(ctx context.Context, req webhook.Request) (*webhook.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.sendFn == nil {
		return &webhook.Response{StatusCode: 200}, nil
	}
	return f.sendFn(ctx, req)
}

func (f *fakeSender) sent() []webhook.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webhook.Request(nil), f.requests...)
}

type fakeLimiter struct {
	checkFn func(ctx context.Context, key string, maxCount int, window time.Duration) (bool, error)
}

func (f *fakeLimiter) CheckAndConsume(ctx context.Context, key string, maxCount int, window time.Duration) (bool, error) {
	if f.checkFn == nil {
		return true, nil
	}
	return f.checkFn(ctx, key, maxCount, window)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
