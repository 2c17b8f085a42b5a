package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// ErrShuttingDown is returned by Spawn once Shutdown has begun
var ErrShuttingDown = errors.New("server is shutting down")

// Supervisor runs detached background work. Work is never awaited by the
// caller that spawned it; errors and panics are logged here instead of
// reaching the caller or crashing the process.
type Supervisor struct {
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSupervisor creates a supervisor
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Spawn starts fn in its own goroutine and returns immediately. After
// Shutdown has begun it refuses the work with ErrShuttingDown.
func (s *Supervisor) Spawn(name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("detached work refused", zap.String("work", name))
		return ErrShuttingDown
	}
	// Add under mu so it can never race with the Wait in Shutdown.
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("detached work panicked",
					zap.String("work", name),
					zap.String("panic", fmt.Sprint(r)),
					zap.ByteString("stack", debug.Stack()))
			}
		}()

		if err := fn(s.ctx); err != nil {
			s.logger.Warn("detached work failed", zap.String("work", name), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all spawned work returns or ctx is done
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the context handed to spawned work and waits for it
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.Wait(ctx)
}
