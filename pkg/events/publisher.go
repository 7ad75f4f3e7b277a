package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

const (
	defaultRetryAttempts = 5
	defaultRetryDelay    = time.Second
	maxRetryDelay        = time.Minute
)

type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

// DialWithRetry connects with exponential backoff capped at one minute. It gives up early when
// ctx is cancelled.
func DialWithRetry(ctx context.Context, opts ConnectionOptions) (*amqp091.Connection, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if attempt > 1 {
				opts.Logger.Info("Connected to RabbitMQ", "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err

		if attempt == opts.RetryAttempts {
			break
		}

		sleep := backoff(opts.Delay, attempt)
		opts.Logger.Warn("RabbitMQ dial failed", "attempt", attempt, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("connect to RabbitMQ after %d attempts: %w", opts.RetryAttempts, lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if sleep >= maxRetryDelay {
			return maxRetryDelay
		}
	}

	return sleep
}

type amqpPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger

	mu sync.Mutex
	ch *amqp091.Channel
}

// NewAMQP dials url, declares a durable topic exchange and puts the publishing channel in
// confirm mode.
func NewAMQP(ctx context.Context, opts ConnectionOptions, exchange string) (Publisher, error) {
	if exchange == "" {
		return nil, errors.New("events exchange is required")
	}

	conn, err := DialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	ch, err := openChannel(conn, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &amqpPublisher{
		conn:     conn,
		exchange: exchange,
		log:      log.With("component", "events"),
		ch:       ch,
	}, nil
}

func openChannel(conn *amqp091.Connection, exchange string) (*amqp091.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return ch, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := openChannel(p.conn, p.exchange)
		if err != nil {
			return err
		}
		p.ch = ch
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msg.Meta.ID,
		CorrelationId: msg.Meta.CorrelationID,
		Type:          msg.Meta.Type,
		Timestamp:     msg.Meta.At,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", key)
	}

	p.log.Debug("Published event", "key", key, "exchange", p.exchange)
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

// NopPublisher drops every event. It stands in when no broker is configured.
type NopPublisher struct {
	Log *slog.Logger
}

func (p NopPublisher) Publish(_ context.Context, key string, _ Envelope) error {
	if p.Log != nil {
		p.Log.Debug("Skipped event publish", "key", key)
	}
	return nil
}

func (NopPublisher) Close() error {
	return nil
}
