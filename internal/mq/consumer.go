package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/richiesta-assistenza/service_layer/internal/app/system"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

var _ system.Service = (*Consumer)(nil)

// HandlerFunc processes one delivery. A returned error requeues the message.
type HandlerFunc func(ctx context.Context, routingKey string, body []byte) error

// ConsumerConfig describes the queue a Consumer binds.
type ConsumerConfig struct {
	URL      string
	Exchange string
	Queue    string
	Bindings []string
	Prefetch int
}

// Consumer drains a durable queue bound to a topic exchange.
type Consumer struct {
	cfg     ConsumerConfig
	handler HandlerFunc
	log     *logger.Logger

	conn *amqp.Connection
	ch   *amqp.Channel

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewConsumer builds a consumer; the connection is opened on Start.
func NewConsumer(cfg ConsumerConfig, handler HandlerFunc, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewDefault("mq-consumer")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	return &Consumer{cfg: cfg, handler: handler, log: log}
}

func (c *Consumer) Name() string { return "notification-queue-consumer" }

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) error {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("%s: %w", step, err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	for _, key := range c.cfg.Bindings {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fail("bind "+key, err)
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fail("set qos", err)
	}
	c.conn = conn
	c.ch = ch
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if err := c.connect(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	msgs, err := c.ch.ConsumeWithContext(runCtx, c.cfg.Queue, c.Name(), false, false, false, false, nil)
	if err != nil {
		cancel()
		c.closeConn()
		return fmt.Errorf("consume: %w", err)
	}
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx, msgs)
	}()

	c.log.WithField("queue", c.cfg.Queue).Info("queue consumer started")
	return nil
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			if err := c.handler(ctx, d.RoutingKey, d.Body); err != nil {
				c.log.WithError(err).
					WithField("routing_key", d.RoutingKey).
					Warn("delivery handling failed, requeueing")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.closeConn()
	c.log.Info("queue consumer stopped")
	return nil
}

func (c *Consumer) closeConn() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
