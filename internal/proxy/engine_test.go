package proxy

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zinic/pyrox/internal/connpool"
	"github.com/zinic/pyrox/internal/filter"
	"github.com/zinic/pyrox/internal/message"
	"github.com/zinic/pyrox/internal/router"
)

type headFilterFunc func(*message.Request) filter.Action

func (f headFilterFunc) Capabilities() filter.Capability          { return filter.RequestHead }
func (f headFilterFunc) OnRequestHead(r *message.Request) filter.Action { return f(r) }

type reqBodyFilterFunc func([]byte, filter.BodySink) filter.Action

func (f reqBodyFilterFunc) Capabilities() filter.Capability { return filter.RequestBody }
func (f reqBodyFilterFunc) OnRequestBody(chunk []byte, out filter.BodySink) filter.Action {
	return f(chunk, out)
}

func newEngine(t *testing.T, down net.Conn, rt router.Router, reqFilters ...filter.Filter) *Engine {
	t.Helper()
	registry := filter.NewRegistry(nil,
		func() []filter.Filter { return reqFilters },
		func() []filter.Filter { return nil },
	)
	opts := Options{
		Router:      rt,
		Pool:        connpool.New(5),
		Filters:     registry,
		DialTimeout: 2 * time.Second,
	}
	return New(down, opts)
}

func mustRoute(t *testing.T, raw string) router.Route {
	t.Helper()
	rt, err := router.Parse(raw)
	if err != nil {
		t.Fatalf("router.Parse(%q): %v", raw, err)
	}
	return rt
}

// readResponse parses one HTTP response off r, the way a real client
// would, so tests assert on the wire bytes the engine actually sent.
func readResponse(t *testing.T, r *bufio.Reader) *http.Response {
	t.Helper()
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	return resp
}

func TestIdentityProxyRewritesHostAndRelaysBody(t *testing.T) {
	var gotHost string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo", string(body))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello-client"))
	}))
	defer origin.Close()

	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, origin.Listener.Addr().String()))
	e := newEngine(t, down, rt)
	go e.Serve()

	go func() {
		client.Write([]byte("POST /widgets HTTP/1.1\r\nHost: ignored.example\r\nContent-Length: 5\r\n\r\nhowdy"))
	}()

	resp := readResponse(t, bufio.NewReader(client))
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "howdy", resp.Header.Get("X-Echo"), "origin did not see forwarded body")
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "hello-client", string(body))
	require.Equal(t, origin.Listener.Addr().String(), gotHost, "Host not rewritten to upstream authority")
}

func TestRequestHeadRejectNeverConnectsUpstream(t *testing.T) {
	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, "127.0.0.1:1")) // nothing listens here
	rejector := headFilterFunc(func(r *message.Request) filter.Action {
		return filter.RejectWith(message.NewDefault(403, "pyrox/test"))
	})
	e := newEngine(t, down, rt, rejector)
	go e.Serve()

	go func() {
		client.Write([]byte("GET /secret HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()

	resp := readResponse(t, bufio.NewReader(client))
	defer resp.Body.Close()
	require.Equal(t, 403, resp.StatusCode)
	require.Equal(t, "close", resp.Header.Get("Connection"), "expected Connection: close on an intercepted response")
}

func TestRouteActionOverridesUpstream(t *testing.T) {
	var hitPrimary, hitOverride int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hitPrimary, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer primary.Close()
	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hitOverride, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer override.Close()

	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, primary.Listener.Addr().String()))
	routeFilter := headFilterFunc(func(r *message.Request) filter.Action {
		return filter.RouteTo(override.Listener.Addr().String())
	})
	e := newEngine(t, down, rt, routeFilter)
	go e.Serve()

	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()

	resp := readResponse(t, bufio.NewReader(client))
	resp.Body.Close()

	require.EqualValues(t, 1, atomic.LoadInt32(&hitOverride), "expected override hit exactly once")
	require.EqualValues(t, 0, atomic.LoadInt32(&hitPrimary), "expected primary route never hit")
}

func TestRequestBodyFilterTriggersChunkedReframe(t *testing.T) {
	var sawChunked bool
	var sawBody string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawChunked = len(r.TransferEncoding) > 0
		body, _ := io.ReadAll(r.Body)
		sawBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, origin.Listener.Addr().String()))
	upper := reqBodyFilterFunc(func(chunk []byte, out filter.BodySink) filter.Action {
		up := make([]byte, len(chunk))
		for i, c := range chunk {
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			up[i] = c
		}
		out.Write(up)
		return filter.NextAction()
	})
	e := newEngine(t, down, rt, upper)
	go e.Serve()

	go func() {
		client.Write([]byte("POST /up HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	resp := readResponse(t, bufio.NewReader(client))
	resp.Body.Close()

	require.True(t, sawChunked, "expected origin to see a chunked request (CL->chunked reframe)")
	require.Equal(t, "HELLO", sawBody, "want filter-rewritten body")
}

func TestKeepAliveReusesPooledUpstreamConnection(t *testing.T) {
	var newConns int32
	origin := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	origin.Config.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateNew {
			atomic.AddInt32(&newConns, 1)
		}
	}
	origin.Start()
	defer origin.Close()

	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, origin.Listener.Addr().String()))
	e := newEngine(t, down, rt)
	go e.Serve()

	reader := bufio.NewReader(client)
	for i := 0; i < 2; i++ {
		go func() {
			client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		}()
		resp := readResponse(t, reader)
		resp.Body.Close()
	}

	require.EqualValues(t, 1, atomic.LoadInt32(&newConns), "origin should see exactly 1 new connection (pool reuse)")
}

// TestAllRequestHeadersForwardedNotOnlyLast guards against a header
// accumulator bug where every header field except the last one parsed
// would be silently dropped before reaching upstream.
func TestAllRequestHeadersForwardedNotOnlyLast(t *testing.T) {
	var got http.Header
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, origin.Listener.Addr().String()))
	e := newEngine(t, down, rt)
	go e.Serve()

	go func() {
		client.Write([]byte("GET /x HTTP/1.1\r\nHost: ignored\r\n" +
			"X-First: one\r\nX-Second: two\r\nX-Third: three\r\n\r\n"))
	}()

	resp := readResponse(t, bufio.NewReader(client))
	resp.Body.Close()

	require.Equal(t, "one", got.Get("X-First"), "first of three headers must reach upstream")
	require.Equal(t, "two", got.Get("X-Second"), "middle header must reach upstream")
	require.Equal(t, "three", got.Get("X-Third"), "last header must reach upstream")
}

// TestChunkedTrailersForwardedToUpstream guards the trailer-forwarding
// path wired onto the chunked parser's existing trailer support.
func TestChunkedTrailersForwardedToUpstream(t *testing.T) {
	var got http.Header
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
		got = r.Trailer.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, origin.Listener.Addr().String()))
	e := newEngine(t, down, rt)
	go e.Serve()

	go func() {
		client.Write([]byte("POST /up HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\nTrailer: X-Trailer\r\n\r\n" +
			"5\r\nhello\r\n0\r\nX-Trailer: done\r\n\r\n"))
	}()

	resp := readResponse(t, bufio.NewReader(client))
	resp.Body.Close()

	require.Equal(t, "done", got.Get("X-Trailer"), "trailer field must reach upstream")
}

// TestPureNextPathWireBytesMatchIdentityProxy guards spec.md §8's testable
// property that a filter list of only NEXT-returning filters relays wire
// bytes identical to a plain identity proxy (modulo the Host rewrite) —
// in particular, that the engine never stamps its own correlation id onto
// the outbound request (E2E scenario 1's exact expected wire).
func TestPureNextPathWireBytesMatchIdentityProxy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	gotCh := make(chan string, 1)
	go func() {
		conn, aerr := ln.Accept()
		if aerr != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		gotCh <- string(buf[:n])
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, ln.Addr().String()))
	e := newEngine(t, down, rt)
	go e.Serve()

	go func() {
		client.Write([]byte("GET /x HTTP/1.1\r\nHost: ignored\r\n\r\n"))
	}()

	resp := readResponse(t, bufio.NewReader(client))
	resp.Body.Close()

	want := "GET /x HTTP/1.1\r\nHost: " + ln.Addr().String() + "\r\n\r\n"
	require.Equal(t, want, <-gotCh, "request wire bytes must match an identity proxy's, Host rewrite aside")
}

// TestDeadPooledUpstreamRedialsOnce guards spec.md §7: a pooled upstream
// connection found dead on the first write gets replaced by one fresh
// dial before the engine gives up, rather than an immediate 502.
func TestDeadPooledUpstreamRedialsOnce(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	_, down := net.Pipe()
	defer down.Close()

	rt := router.NewStatic(mustRoute(t, origin.Listener.Addr().String()))
	e := newEngine(t, down, rt)
	e.routeKey = origin.Listener.Addr().String()

	deadClient, deadServer := net.Pipe()
	deadServer.Close()
	deadClient.Close()
	e.up = deadClient
	e.upFromPool = true
	e.headBuf = []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	err := e.sendRequestHead()
	require.NoError(t, err, "expected the one-shot redial against a live origin to succeed")
	require.False(t, e.upFromPool, "the redialed connection did not come from the pool")
}

// TestReplyWithBodySourceUsesChunkedFraming exercises spec.md §4.6
// "Intercepted replies with a body source": the engine must switch to
// chunked framing itself since the filter only hands over an io.Reader
// of unknown length, never a plain io.Copy with no framing at all.
func TestReplyWithBodySourceUsesChunkedFraming(t *testing.T) {
	client, down := net.Pipe()
	defer client.Close()

	rt := router.NewStatic(mustRoute(t, "127.0.0.1:1"))
	replier := headFilterFunc(func(r *message.Request) filter.Action {
		resp := message.NewDefault(200, "pyrox/test")
		resp.Headers.Remove("Content-Length")
		return filter.ReplyWithBody(resp, strings.NewReader("hello-from-filter"))
	})
	e := newEngine(t, down, rt, replier)
	go e.Serve()

	go func() {
		client.Write([]byte("GET /x HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()

	resp := readResponse(t, bufio.NewReader(client))
	require.Equal(t, []string{"chunked"}, resp.TransferEncoding, "expected chunked framing for a body-source reply")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello-from-filter", string(body))
}
