// Package router selects an upstream target for a request (C4, spec.md
// §4.4). A Route is the triple (host, port, scheme); round-robin
// selection plus a one-shot override is the direct port of
// pyrox/server/routing.py's RoundRobinRouter (original_source), and a
// static single-route variant (SPEC_FULL.md §C.2) is kept alongside it.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Scheme is the upstream transport scheme.
type Scheme int

const (
	HTTP Scheme = iota
	HTTPS
)

func (s Scheme) String() string {
	if s == HTTPS {
		return "https"
	}
	return "http"
}

func (s Scheme) defaultPort() int {
	if s == HTTPS {
		return 443
	}
	return 80
}

// Route identifies one origin endpoint.
type Route struct {
	Host   string
	Port   int
	Scheme Scheme
}

// Authority returns the "host:port" string used to rewrite the Host
// header toward upstream (spec.md §4.6 step 1, §8 invariant).
func (r Route) Authority() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ErrInvalidRoute indicates a route string was not a parseable host, or
// host:port, or http(s):// URL.
var ErrInvalidRoute = errors.New("router: invalid route")

// ErrNoRoute is returned by Next when no routes are configured and no
// one-shot override is pending (spec.md §4.4; the engine replies 503).
var ErrNoRoute = errors.New("router: no route available")

// Parse accepts "host:port", "host" (defaulting to the scheme's default
// port) or a full "http(s)://host:port" URL, mirroring
// pyrox/server/routing.py's parse_route_url.
func Parse(raw string) (Route, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Route{}, ErrInvalidRoute
	}

	scheme := HTTP
	switch strings.ToLower(u.Scheme) {
	case "", "http":
		scheme = HTTP
	case "https":
		scheme = HTTPS
	default:
		return Route{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRoute, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Route{}, ErrInvalidRoute
	}

	port := scheme.defaultPort()
	if p := u.Port(); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Route{}, fmt.Errorf("%w: bad port %q", ErrInvalidRoute, p)
		}
		port = v
	}

	return Route{Host: host, Port: port, Scheme: scheme}, nil
}

// Router selects the next upstream Route for a request.
type Router interface {
	// Next returns the next route, or ErrNoRoute if none is configured.
	Next() (Route, error)
	// SetNext overrides the very next call to Next with route; the
	// override is one-shot and clears itself once consumed (spec.md
	// §4.4, driven by a filter's ROUTE action, §4.3).
	SetNext(route Route)
}

// base holds the one-shot override shared by both Router implementations.
type base struct {
	mu   sync.Mutex
	next *Route
}

func (b *base) SetNext(route Route) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := route
	b.next = &r
}

// takeOverride returns the pending override and clears it, or
// (Route{}, false) if none is set. Caller must hold b.mu.
func (b *base) takeOverride() (Route, bool) {
	if b.next == nil {
		return Route{}, false
	}
	r := *b.next
	b.next = nil
	return r, true
}

// RoundRobin cycles through a fixed list of routes, resuming from its
// prior position across calls (spec.md §8 scenario 3).
type RoundRobin struct {
	base
	routes []Route
	last   int
}

// NewRoundRobin returns a RoundRobin over routes. An empty list is legal;
// Next then always returns ErrNoRoute until an override is set.
func NewRoundRobin(routes ...Route) *RoundRobin {
	return &RoundRobin{routes: append([]Route(nil), routes...), last: -1}
}

func (r *RoundRobin) Next() (Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.takeOverride(); ok {
		return rt, nil
	}
	if len(r.routes) == 0 {
		return Route{}, ErrNoRoute
	}
	r.last = (r.last + 1) % len(r.routes)
	return r.routes[r.last], nil
}

// Static always returns the same pinned route, aside from a one-shot
// override (SPEC_FULL.md §C.2, ancestor: pyrox's single-host
// upstream_hosts config with no rotation).
type Static struct {
	base
	route Route
	set   bool
}

// NewStatic returns a Router pinned to route.
func NewStatic(route Route) *Static {
	return &Static{route: route, set: true}
}

func (s *Static) Next() (Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.takeOverride(); ok {
		return rt, nil
	}
	if !s.set {
		return Route{}, ErrNoRoute
	}
	return s.route, nil
}
