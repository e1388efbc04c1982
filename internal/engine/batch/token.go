package batch

import (
	"context"
	"sync/atomic"
)

// Token is a one-way cooperative cancellation signal shared by every request
// of one operation. Once aborted it stays aborted.
//
// The token is backed by a context so that in-flight transport calls made
// with Context() are aborted as soon as Cancel is called.
type Token struct {
	ctx      context.Context
	cancel   context.CancelFunc
	aborted  atomic.Bool
	released atomic.Bool
}

// NewToken creates a token derived from parent. Cancelling parent also
// aborts the token.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel aborts the token. Calling it more than once, or after the operation
// has already finished, is a no-op.
func (t *Token) Cancel() {
	if t == nil || t.released.Load() {
		return
	}
	t.aborted.Store(true)
	t.cancel()
}

// Aborted reports whether the token, or its parent context, was cancelled
// before the token was released.
func (t *Token) Aborted() bool {
	if t == nil {
		return false
	}
	if t.aborted.Load() {
		return true
	}
	return !t.released.Load() && t.ctx.Err() != nil
}

// Released reports whether the owning operation has terminated. A released
// token cannot drive another run.
func (t *Token) Released() bool {
	return t != nil && t.released.Load()
}

// Context returns the context that carries the abort signal to transports.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is closed when the token is aborted or released.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Release frees the token's context once the owning operation has
// terminated. A released token keeps whatever Aborted value it had.
func (t *Token) Release() {
	if t == nil {
		return
	}
	if t.ctx.Err() != nil && !t.released.Load() {
		// Parent cancellation observed before release counts as an abort.
		t.aborted.Store(true)
	}
	t.released.Store(true)
	t.cancel()
}
