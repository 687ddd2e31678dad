package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/etaengine/internal/common/config"
	"github.com/etaengine/internal/common/logger"
)

// Manager ties the consumer and processor together with a shared lifecycle.
type Manager struct {
	config    config.IngestConfig
	logger    logger.Logger
	consumer  *Consumer
	processor *Processor
	mu        sync.RWMutex
	isRunning bool
	cancelFn  context.CancelFunc
}

func NewManager(cfg config.IngestConfig, consumer *Consumer, processor *Processor, log logger.Logger) *Manager {
	return &Manager{
		config:    cfg,
		logger:    log,
		consumer:  consumer,
		processor: processor,
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("ingest manager is already running")
	}

	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancelFn = cancel

	if err := m.consumer.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	m.processor.Start(ctx, m.consumer.Messages())

	m.isRunning = true
	m.logger.Info("Ingest manager started", "subject", m.config.Subject)

	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return
	}

	m.logger.Info("Stopping ingest manager")

	if m.cancelFn != nil {
		m.cancelFn()
	}

	m.consumer.Stop()

	m.isRunning = false
	m.logger.Info("Ingest manager stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}
