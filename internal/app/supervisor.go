package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// Supervisor owns the strategy goroutine and implements the start/stop
// contract of the HTTP control surface. The strategy context is derived from
// the base context, so process shutdown always stops the strategy too.
type Supervisor struct {
	base   context.Context
	launch func(ctx context.Context) error
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewSupervisor creates a Supervisor around the given strategy entry point.
func NewSupervisor(base context.Context, launch func(ctx context.Context) error, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		base:   base,
		launch: launch,
		logger: logger.With(slog.String("component", "supervisor")),
	}
}

// Start launches the strategy goroutine. Returns domain.ErrAlreadyRunning if
// it is already active.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
			// Previous run finished; fall through and restart.
		default:
			return domain.ErrAlreadyRunning
		}
	}

	runCtx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		err := s.launch(runCtx)
		if err != nil && runCtx.Err() == nil {
			s.logger.Error("strategy exited with error", slog.String("error", err.Error()))
		}
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}()

	return nil
}

// Stop requests a cooperative stop and waits for the strategy to exit or the
// caller's context to expire. The strategy finishes its in-flight cycle
// before returning.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil || done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the strategy goroutine is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the current run finishes and returns its error. Returns
// immediately if nothing was started.
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
