package webhook

import (
	"context"
	"sync"
	"sync/atomic"
)

type abortReason int32

const (
	reasonNone abortReason = iota
	reasonUser
	reasonTimeout
)

func (r abortReason) String() string {
	switch r {
	case reasonUser:
		return "user"
	case reasonTimeout:
		return "timeout"
	}
	return "none"
}

// arbiter merges the independent abort sources of one ask call (caller
// context, registry cancel, internal timer) into a single context. The
// first source to trip decides the reason; later trips are ignored.
type arbiter struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	reason atomic.Int32
}

func newArbiter(parent context.Context) *arbiter {
	// Values flow through, cancellation does not: the caller's
	// cancellation is delivered as a trip so it can be told apart.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &arbiter{ctx: ctx, cancel: cancel}
}

func (a *arbiter) trip(reason abortReason) {
	a.once.Do(func() {
		a.reason.Store(int32(reason))
		a.cancel()
	})
}

func (a *arbiter) Reason() abortReason {
	return abortReason(a.reason.Load())
}

// close releases the context once the call is over without recording a
// reason.
func (a *arbiter) close() {
	a.once.Do(func() {})
	a.cancel()
}
