// Package eventbridge forwards jobq core events onto an AMQP exchange
// so other processes can observe queue activity without sharing the
// adapter. It is additive: nothing in the core depends on it.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jobq-go/jobq"
)

// Config holds AMQP connection and topology settings, grounded on the
// teacher's shared/rabbitmq.Config field-for-field.
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	ExchangeName      string
	ExchangeType      string
	RoutingKeyPrefix  string
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	PublishRetries    int
	PublishRetryDelay time.Duration
}

// Bridge owns one AMQP connection and publishes a message per emitted
// core event. Grounded on the teacher's shared/rabbitmq.Client: same
// connect-with-retry and PublishWithRetry shapes, narrowed to a single
// fire-and-forget publish per event instead of a general Publish API.
type Bridge struct {
	cfg     Config
	logger  *slog.Logger
	conn    *amqp.Connection
	channel *amqp.Channel
}

// eventPayload is the wire shape of a forwarded event.
type eventPayload struct {
	Event     string    `json:"event"`
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Connect dials AMQP with retry and declares the configured exchange.
func Connect(cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{cfg: cfg, logger: logger}
	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("jobq/eventbridge: connect: %w", err)
	}
	return b, nil
}

func (b *Bridge) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s", b.cfg.User, b.cfg.Password, b.cfg.Host, b.cfg.Port, b.cfg.VHost)
	amqpConfig := amqp.Config{Heartbeat: b.cfg.Heartbeat, Locale: "en_US"}

	maxAttempts := b.cfg.RetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}
		b.logger.Warn("jobq/eventbridge: connection attempt failed",
			slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts), slog.Any("error", err))
		if attempt < maxAttempts {
			time.Sleep(b.cfg.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("dial amqp after %d attempts: %w", maxAttempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(b.cfg.ExchangeName, b.cfg.ExchangeType, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	b.conn = conn
	b.channel = channel
	return nil
}

// Attach subscribes the bridge to every event kind on q and publishes
// each as a JSON message routed by "<prefix>.<event>".
func (b *Bridge) Attach(q *jobq.Queue) {
	for _, name := range []jobq.EventName{jobq.EventStart, jobq.EventSuccess, jobq.EventFailure, jobq.EventFailed} {
		eventName := name
		q.On(eventName, func(job *jobq.Job, err error) {
			b.publish(eventName, job, err)
		})
	}
}

func (b *Bridge) publish(event jobq.EventName, job *jobq.Job, err error) {
	payload := eventPayload{
		Event:     string(event),
		JobID:     job.ID,
		Name:      job.Name,
		Attempts:  job.Attempts,
		Timestamp: time.Now(),
	}
	if err != nil {
		payload.Error = err.Error()
	}

	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		b.logger.Error("jobq/eventbridge: failed to marshal event", slog.Any("error", marshalErr))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.publishWithRetry(ctx, string(event), body); err != nil {
		b.logger.Error("jobq/eventbridge: failed to publish event", slog.String("event", string(event)), slog.Any("error", err))
	}
}

// publishWithRetry mirrors the teacher's exponential-backoff publish
// retry loop, scoped to one message instead of an arbitrary caller
// payload.
func (b *Bridge) publishWithRetry(ctx context.Context, routingSuffix string, body []byte) error {
	maxRetries := b.cfg.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := b.cfg.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	routingKey := b.cfg.RoutingKeyPrefix + "." + routingSuffix

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := b.channel.PublishWithContext(ctx, b.cfg.ExchangeName, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxRetries {
			time.Sleep(baseDelay << uint(attempt))
		}
	}
	return fmt.Errorf("publish after %d attempts: %w", maxRetries+1, lastErr)
}

// Close tears down the channel and connection.
func (b *Bridge) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
