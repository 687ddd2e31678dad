package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/etaengine/internal/common/config"
	"github.com/etaengine/internal/common/logger"
)

// Consumer subscribes to the ping subject and hands raw records to the
// processing side over a buffered channel. When the channel is full the
// record is dropped and counted; ingestion never blocks the transport.
type Consumer struct {
	cfg    config.IngestConfig
	nc     *nats.Conn
	logger logger.Logger

	onDrop func()

	mu        sync.Mutex
	isRunning bool
	sub       *nats.Subscription
	msgChan   chan []byte
}

// NewConsumer wraps an established NATS connection. onDrop, when non-nil,
// is invoked for every record dropped due to backpressure.
func NewConsumer(cfg config.IngestConfig, nc *nats.Conn, onDrop func(), log logger.Logger) *Consumer {
	return &Consumer{
		cfg:     cfg,
		nc:      nc,
		logger:  log,
		onDrop:  onDrop,
		msgChan: make(chan []byte, cfg.BufferSize),
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return fmt.Errorf("consumer is already running")
	}

	sub, err := c.nc.Subscribe(c.cfg.Subject, func(msg *nats.Msg) {
		c.deliver(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %q: %w", c.cfg.Subject, err)
	}
	c.sub = sub
	c.isRunning = true
	c.logger.Info("Ingest consumer started", "subject", c.cfg.Subject)

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

// deliver enqueues one raw record, dropping it when the buffer is full.
func (c *Consumer) deliver(subject string, data []byte) {
	select {
	case c.msgChan <- data:
	default:
		if c.onDrop != nil {
			c.onDrop()
		}
		c.logger.Warn("Ingest channel full, dropping ping", "subject", subject)
	}
}

// Stop unsubscribes and marks the consumer stopped. The message channel is
// never closed: Unsubscribe does not wait for an in-flight handler, so a
// callback racing Stop may still enqueue. Consumers of Messages exit via
// their context instead.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("Unsubscribe failed", "error", err)
		}
		c.sub = nil
	}
	c.isRunning = false
	c.logger.Info("Ingest consumer stopped")
}

func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}

// Messages returns the channel of raw ping records.
func (c *Consumer) Messages() <-chan []byte {
	return c.msgChan
}
