// Package connpool implements the upstream connection pool (C5, spec.md
// §4.5): up to K idle sockets held per route, FIFO checkout, and
// detection of a peer-closed idle socket via a background read the way
// net/http's own Transport watches its idle persistConns (same idiom,
// adapted to a route-keyed pool instead of a single shared one).
package connpool

import (
	"net"
	"sync"
	"sync/atomic"
)

// DefaultSize is K, the default number of idle channels retained per
// route (spec.md §4.5).
const DefaultSize = 5

type idleEntry struct {
	conn      net.Conn
	canceled  atomic.Bool
	watchDone chan struct{}
}

func newIdleEntry(conn net.Conn, onDead func()) *idleEntry {
	e := &idleEntry{conn: conn, watchDone: make(chan struct{})}
	go e.watch(onDead)
	return e
}

// watch blocks on a 1-byte read to detect the peer closing (or writing
// unexpectedly to) an idle socket — spec.md §4.5 "re-enable reads to
// observe peer FIN". checkOut interrupts this with a past read deadline
// before handing the connection back to a caller.
func (e *idleEntry) watch(onDead func()) {
	defer close(e.watchDone)
	buf := make([]byte, 1)
	_, _ = e.conn.Read(buf)
	if e.canceled.Load() {
		return
	}
	onDead()
	e.conn.Close()
}

// cancel stops the watch goroutine so the connection can be handed back
// to a checkout caller, and blocks until the goroutine has actually
// returned so no second concurrent reader races the caller.
func (e *idleEntry) cancel() {
	e.canceled.Store(true)
	e.conn.SetReadDeadline(timeInPast)
	<-e.watchDone
	e.conn.SetReadDeadline(noDeadline)
}

// Pool holds, per route key, a FIFO of up to K idle upstream
// connections. A connection never appears in more than one route's list
// (spec.md §3 Connection Pool invariants).
type Pool struct {
	mu    sync.Mutex
	size  int
	lists map[string][]*idleEntry
}

// New returns a Pool capped at size idle connections per route. size <=
// 0 is treated as DefaultSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{size: size, lists: make(map[string][]*idleEntry)}
}

// CheckIn offers conn back to the pool under routeKey. If the route's
// list is already at capacity, conn is closed instead (spec.md §4.5).
func (p *Pool) CheckIn(routeKey string, conn net.Conn) {
	p.mu.Lock()
	list := p.lists[routeKey]
	if len(list) >= p.size {
		p.mu.Unlock()
		conn.Close()
		return
	}
	entry := newIdleEntry(conn, func() { p.removeDead(routeKey, conn) })
	p.lists[routeKey] = append(list, entry)
	p.mu.Unlock()
}

// CheckOut pops the oldest idle connection for routeKey, or reports
// false if none is available (caller then dials a fresh socket).
func (p *Pool) CheckOut(routeKey string) (net.Conn, bool) {
	p.mu.Lock()
	list := p.lists[routeKey]
	if len(list) == 0 {
		p.mu.Unlock()
		return nil, false
	}
	entry := list[0]
	p.lists[routeKey] = list[1:]
	p.mu.Unlock()

	entry.cancel()
	return entry.conn, true
}

// removeDead drops conn from routeKey's list if still present; used by
// a watch goroutine that observed an I/O error or peer close on an idle
// connection (spec.md §4.5 "closed and removed", §7 "Pool/idle channel
// IO errors: silently drop the channel").
func (p *Pool) removeDead(routeKey string, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.lists[routeKey]
	for i, e := range list {
		if e.conn == conn {
			p.lists[routeKey] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Len reports the number of idle connections currently pooled for
// routeKey, for tests and metrics.
func (p *Pool) Len(routeKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lists[routeKey])
}

// Close closes every pooled connection across all routes.
func (p *Pool) Close() {
	p.mu.Lock()
	lists := p.lists
	p.lists = make(map[string][]*idleEntry)
	p.mu.Unlock()

	for _, list := range lists {
		for _, e := range list {
			e.conn.Close()
		}
	}
}
