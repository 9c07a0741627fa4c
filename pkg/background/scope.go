package background

import (
	"context"
	"sync"
)

// Scope - joins goroutines by meaning: all of them share one context
// and the owner is able to signal them and wait for their completion.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScope - builds scope derived from parent context.
// Returned stop func cancels the scope context and blocks until every member is done.
func NewScope(parent context.Context) (scope *Scope, stop func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{ctx: ctx, cancel: cancel}
	return s, func() {
		s.cancel()
		s.wg.Wait()
	}
}

// Context - returns scope context, it is done after stop signal.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Go - launches fn as a scope member.
// Returns false without launching when scope is already stopped.
func (s *Scope) Go(fn func(ctx context.Context)) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

// Cancel - signals members to stop, but does not wait for them.
func (s *Scope) Cancel() {
	s.cancel()
}

// Wait - blocks until all members are done or ctx is done.
func (s *Scope) Wait(ctx context.Context) error {
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
