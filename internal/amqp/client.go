// Package amqp publishes and consumes ledger change notifications over
// RabbitMQ. Publishing sits behind a circuit breaker so a broker outage
// degrades to dropped notifications instead of slow requests.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"cashbook/internal/core"
	"cashbook/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	dialTimeout    = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var (
	// ErrCircuitOpen is returned by Publish while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrReconnecting is returned instead of waiting while another caller
	// is re-dialling the broker.
	ErrReconnecting = errors.New("amqp reconnect in progress")
)

type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	// mu guards conn, channel and closed. It is never held across a dial.
	mu           sync.Mutex
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	closed       bool
	reconnecting atomic.Bool

	state        int32
	failureCount int64
	lastFailure  atomic.Int64 // unix nanoseconds
}

// NewClient dials url and declares the topic exchange, the durable queue and
// a catch-all binding between them.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       log.Default().WithComponent(log.ComponentAMQP),
	}
	conn, channel, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.conn, c.channel = conn, channel
	return c, nil
}

func (c *Client) dial() (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.DialConfig(c.url, amqp091.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp091.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return conn, channel, nil
}

func setup(ch *amqp091.Channel, exchange, queue string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing keys are event types; the default queue takes all of them.
	if err := ch.QueueBind(queue, "#", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Publish sends one ledger event, routed by its type.
func (c *Client) Publish(ctx context.Context, ev core.LedgerEvent) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: %w", ev.Type, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch, err := c.ensureChannel()
	if err != nil {
		if !errors.Is(err, ErrReconnecting) {
			c.recordFailure()
		}
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName,
		string(ev.Type), // routing key
		false,           // mandatory
		false,           // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    ev.OccurredAt,
			Type:         string(ev.Type),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropChannel()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published ledger event",
		log.FieldEvent, ev.Type,
		log.FieldUsername, ev.Username,
		log.FieldCashbook, ev.Cashbook,
		"exchange", c.exchangeName)
	return nil
}

// Consume delivers events from the queue to handler until ctx is done,
// reconnecting with exponential backoff when the broker goes away.
// Undecodable messages are dropped; handler errors requeue the message.
func (c *Client) Consume(ctx context.Context, handler func(context.Context, core.LedgerEvent) error) error {
	attempt := 0
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) {
			return err
		}
		c.dropChannel()
		wait := exponentialBackoff(attempt)
		attempt++
		c.logger.WarnContext(ctx, "AMQP consumer disconnected, retrying",
			log.FieldError, err, "retry_in", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if _, err := c.ensureChannel(); err == nil {
			attempt = 0
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler func(context.Context, core.LedgerEvent) error) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming ledger events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed: %w", amqp091.ErrClosed)
			}
			ev, err := DecodeEvent(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "Dropping undecodable message", log.FieldError, err)
				_ = delivery.Nack(false, false)
				continue
			}
			if err := handler(ctx, ev); err != nil {
				c.logger.ErrorContext(ctx, "Failed to handle ledger event",
					log.FieldError, err, log.FieldEvent, ev.Type)
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// ensureChannel returns the open channel, re-dialling when it is gone. Only
// one caller dials at a time; the others get ErrReconnecting straight away.
func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	if c.channel != nil && !c.channel.IsClosed() {
		ch := c.channel
		c.mu.Unlock()
		return ch, nil
	}
	closed := c.closed
	c.closeLocked()
	c.mu.Unlock()

	if closed {
		return nil, amqp091.ErrClosed
	}
	if c.url == "" {
		return nil, errors.New("amqp: no broker url")
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return nil, ErrReconnecting
	}
	defer c.reconnecting.Store(false)

	conn, channel, err := c.dial()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		channel.Close()
		conn.Close()
		return nil, amqp091.ErrClosed
	}
	c.closeLocked()
	c.conn, c.channel = conn, channel
	return channel, nil
}

func (c *Client) dropChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeLocked()
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		if time.Since(time.Unix(0, c.lastFailure.Load())) > openTimeout {
			atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.lastFailure.Store(time.Now().UnixNano())
	failures := atomic.AddInt64(&c.failureCount, 1)
	if failures >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger.Warn("AMQP circuit breaker opened", "failures", failures)
		}
	}
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) || errors.Is(err, ErrReconnecting) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "use of closed network connection", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
