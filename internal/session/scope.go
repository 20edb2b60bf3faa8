package session

import (
	"context"
	"sync"
)

// Handler is called for each auth event delivered to a visible Scope.
type Handler func(ctx context.Context, event AuthEvent)

// Scope ties an auth event subscription to a visibility window. Events are
// delivered to the handler, one at a time, between Visible and Hidden.
type Scope struct {
	mgr     *Manager
	handler Handler

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScope creates a hidden scope.
func (m *Manager) NewScope(handler Handler) *Scope {
	return &Scope{
		mgr:     m,
		handler: handler,
	}
}

// Visible subscribes to auth events. Every event published after Visible
// returns is delivered until the scope is hidden or ctx is done. Calling
// Visible on a visible scope does nothing.
func (s *Scope) Visible(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	sub, err := s.mgr.Subscribe(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		defer sub.Close(context.Background())

		for {
			select {
			case event, ok := <-sub.Events:
				if !ok {
					return
				}
				if runCtx.Err() != nil {
					return
				}

				s.handler(runCtx, event)

			case <-runCtx.Done():
				return
			}
		}
	}()

	return nil
}

// Hidden cancels the subscription. A handler call already in progress is
// not waited for, so a handler may hide its own scope. Calling Hidden on a
// hidden scope does nothing.
func (s *Scope) Hidden() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}

	s.cancel()
	s.cancel = nil
}

// Done is closed once the delivery goroutine of the last Visible call has
// exited. It is nil for a scope that was never visible.
func (s *Scope) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done
}
