package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "notify.dlx"
	connectionName   = "signal-notifier"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 15 * time.Second
)

// RabbitMQ owns the shared AMQP connection. Channels are opened per
// operation and the topology is declared once for every new connection.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	declared    bool
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ch, err := r.channel(dialCtx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection may have died between the check and the call.
		if conn, err = r.reconnectWithBackoff(ctx, conn); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := r.ensureTopology(conn, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}
	return r.reconnectWithBackoff(ctx, conn)
}

func (r *RabbitMQ) ensureTopology(conn *amqp.Connection, ch *amqp.Channel) error {
	r.mu.RLock()
	done := r.declared && r.conn == conn
	r.mu.RUnlock()
	if done {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	if r.conn == conn {
		r.declared = true
	}
	r.mu.Unlock()
	return nil
}

// reconnectWithBackoff replaces stale. Concurrent callers that lost the race
// reuse the connection the winner dialed.
func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context, stale *amqp.Connection) (*amqp.Connection, error) {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	current := r.conn
	r.mu.RUnlock()
	if current != nil && current != stale && !current.IsClosed() {
		return current, nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.DialConfig(r.url, amqp.Config{
			Properties: amqp.Table{"connection_name": connectionName},
			Heartbeat:  10 * time.Second,
		})
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.declared = false
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}
			return newConn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq reconnect canceled after %v: %w", err, ctx.Err())
		case <-time.After(wait):
		}

		wait = nextBackoff(wait)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	current *= 2
	if current > maxBackoff {
		return maxBackoff
	}
	return current
}

// declareTopology declares both exchanges and the platform event queue with
// its dead letter queue. Declarations are idempotent.
func declareTopology(ch *amqp.Channel) error {
	for _, exchange := range []struct {
		name string
		kind string
	}{
		{name: FactsExchange, kind: amqp.ExchangeTopic},
		{name: PlatformExchange, kind: amqp.ExchangeTopic},
		{name: dlxExchangeName, kind: amqp.ExchangeDirect},
	} {
		if err := ch.ExchangeDeclare(exchange.name, exchange.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", exchange.name, err)
		}
	}

	if _, err := ch.QueueDeclare(EventsDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", EventsDLQ, err)
	}
	if err := ch.QueueBind(EventsDLQ, EventsQueue, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", EventsDLQ, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": EventsQueue,
	}
	if _, err := ch.QueueDeclare(EventsQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", EventsQueue, err)
	}
	if err := ch.QueueBind(EventsQueue, "#", PlatformExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", EventsQueue, err)
	}

	return nil
}
