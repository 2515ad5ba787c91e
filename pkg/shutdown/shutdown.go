// Package shutdown coordinates process-exit cleanup. Registered functions
// run in reverse order on SIGTERM/SIGINT or on an explicit Shutdown call,
// which is how the guardian's last-resort cleanup gets a guaranteed seat
// at process exit.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Manager handles graceful shutdown.
type Manager struct {
	mu            sync.Mutex
	shutdownFuncs []func(context.Context) error
	timeout       time.Duration
	doneChan      chan struct{}
	once          sync.Once
	ranOnce       sync.Once
	log           *zap.Logger
}

// New creates a shutdown manager. The timeout bounds the whole shutdown
// pass, not each function.
func New(timeout time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		timeout:  timeout,
		doneChan: make(chan struct{}),
		log:      log,
	}
}

// Register adds a shutdown function. Functions are called in reverse
// order (LIFO).
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, fn)
}

// Wait blocks until SIGTERM or SIGINT is received.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	m.log.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
	m.once.Do(func() { close(m.doneChan) })
}

// Done returns a channel closed when shutdown is initiated.
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Shutdown executes all registered functions in reverse order. Runs at
// most once; later calls are no-ops so explicit cleanup and the signal
// path cannot double-fire.
func (m *Manager) Shutdown() {
	m.ranOnce.Do(func() {
		m.mu.Lock()
		funcs := make([]func(context.Context) error, len(m.shutdownFuncs))
		copy(funcs, m.shutdownFuncs)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](ctx); err != nil {
				m.log.Warn("shutdown function failed", zap.Int("index", i), zap.Error(err))
			}
		}
		m.log.Info("shutdown complete")
	})
}
