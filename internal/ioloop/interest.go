// Package ioloop models the event loop bridge (C7, spec.md §4.7): a
// per-channel bitmask of {READ, WRITE, ERROR} interest that the stream
// engine toggles instead of adding or removing handlers.
//
// The teacher's event loop is a literal single-threaded epoll/kqueue
// reactor (spec.md §9 "Callback chains via class instance attributes").
// Go's runtime scheduler is already a cooperative, non-blocking-I/O-aware
// readiness loop for goroutines; internal/proxy drives each accepted
// connection's downstream and upstream sockets from one dedicated
// goroutine using ordinary blocking net.Conn calls, so there is no
// second userspace reactor to write (see
// DESIGN.md / SPEC_FULL.md §D for why gnet was considered and dropped).
// What the spec's C7 still buys us is the explicit, inspectable interest
// state: Channel below is that bookkeeping, used by internal/proxy to
// record and assert the backpressure bits spec.md §3/§5 describe (reads
// paused while a write drains, reads paused while connecting). Nothing
// reads the bits back for metrics or logging, and they do not gate an
// actual reactor.
package ioloop

import "sync/atomic"

// Interest is a bitmask of readiness a Channel currently cares about.
type Interest uint32

const (
	Read Interest = 1 << iota
	Write
	Error
)

// Has reports whether i includes every bit in want.
func (i Interest) Has(want Interest) bool { return i&want == want }

// Channel tracks the read/write/error interest bitmask and closed state
// for one socket side of an engine (spec.md §4.7, §3 "Stream Engine
// State" backpressure bits). All methods are safe for concurrent use so
// a Channel can be inspected from metrics/logging code running on a
// different goroutine than the engine that owns it.
type Channel struct {
	interest atomic.Uint32
	closed   atomic.Bool
}

// NewChannel returns a Channel with reads enabled, matching a freshly
// accepted or connected socket's default interest.
func NewChannel() *Channel {
	c := &Channel{}
	c.interest.Store(uint32(Read))
	return c
}

// Interest returns the current bitmask.
func (c *Channel) Interest() Interest {
	return Interest(c.interest.Load())
}

// Set replaces the bitmask wholesale.
func (c *Channel) Set(i Interest) {
	c.interest.Store(uint32(i))
}

// Enable turns on the given bits without disturbing others.
func (c *Channel) Enable(i Interest) {
	for {
		old := c.interest.Load()
		next := old | uint32(i)
		if c.interest.CompareAndSwap(old, next) {
			return
		}
	}
}

// Disable turns off the given bits without disturbing others.
func (c *Channel) Disable(i Interest) {
	for {
		old := c.interest.Load()
		next := old &^ uint32(i)
		if c.interest.CompareAndSwap(old, next) {
			return
		}
	}
}

// MarkClosed records that the channel's underlying socket has been
// closed; idempotent.
func (c *Channel) MarkClosed() {
	c.closed.Store(true)
}

// Closed reports whether MarkClosed has been called.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}
