package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) handler(label string) Handler {
	return func(_ context.Context, e Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, label+":"+e.Name)
		return nil
	}
}

func (r *recorder) sorted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.events...)
	sort.Strings(out)
	return out
}

func TestBusRouting(t *testing.T) {
	t.Parallel()

	bus := New(nil)
	rec := &recorder{}
	bus.Subscribe("*", rec.handler("all"))
	bus.Subscribe("webhook.*", rec.handler("webhook"))
	bus.Subscribe("signal.created", rec.handler("exact"))

	ctx := context.Background()
	for _, name := range []string{"signal.created", "webhook.delivery.failed", "notification.created"} {
		if err := bus.Publish(ctx, name, map[string]any{"x": 1}); err != nil {
			t.Fatalf("Publish(%s) error = %v", name, err)
		}
	}
	bus.Wait()

	got := rec.sorted()
	want := []string{"all:signal.created", "exact:signal.created", "webhook:webhook.delivery.failed"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	bus := New(nil)
	rec := &recorder{}
	bus.Subscribe("onchain.event", func(context.Context, Event) error { return errors.New("boom") })
	bus.Subscribe("onchain.event", rec.handler("ok"))

	if err := bus.Publish(context.Background(), "onchain.event", nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	bus.Wait()

	if got := rec.sorted(); len(got) != 1 {
		t.Fatalf("events = %v, want one delivery", got)
	}
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	bus := New(nil)
	rec := &recorder{}
	bus.Subscribe("onchain.event", func(context.Context, Event) error { panic("boom") })
	bus.Subscribe("onchain.event", rec.handler("ok"))

	if err := bus.Publish(context.Background(), "onchain.event", nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	bus.Wait()

	if got := rec.sorted(); len(got) != 1 {
		t.Fatalf("events = %v, want one delivery", got)
	}
}

func TestBusPublishRequiresName(t *testing.T) {
	t.Parallel()

	if err := New(nil).Publish(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for blank event name")
	}
}

func TestEventDecode(t *testing.T) {
	t.Parallel()

	type payload struct {
		EventType string `json:"eventType"`
	}

	var fromRaw payload
	raw := Event{Name: "onchain.event", Payload: json.RawMessage(`{"eventType":"STAKE"}`)}
	if err := raw.Decode(&fromRaw); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if fromRaw.EventType != "STAKE" {
		t.Fatalf("EventType = %q, want STAKE", fromRaw.EventType)
	}

	var fromMap payload
	mapped := Event{Name: "onchain.event", Payload: map[string]any{"eventType": "UNSTAKE"}}
	if err := mapped.Decode(&fromMap); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if fromMap.EventType != "UNSTAKE" {
		t.Fatalf("EventType = %q, want UNSTAKE", fromMap.EventType)
	}
}
