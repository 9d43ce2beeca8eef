// Command pyroxd is the proxy's process entrypoint: it loads
// configuration, binds the downstream listener, and fans accepted
// connections out across a small pool of worker goroutines sharing
// that one net.Listener — the idiomatic replacement for the original's
// forked worker processes (original_source pyrox/server/__init__.py).
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flagutil "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/zinic/pyrox/internal/config"
	"github.com/zinic/pyrox/internal/connpool"
	"github.com/zinic/pyrox/internal/filter"
	"github.com/zinic/pyrox/internal/metrics"
	"github.com/zinic/pyrox/internal/proxy"
	"github.com/zinic/pyrox/internal/router"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flagutil.NewFlagSet("pyroxd", flagutil.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to a YAML config file")
	bindHost := fs.String("bind-host", "", "override bind_host")
	bindPort := fs.Int("bind-port", 0, "override bind_port")
	workers := fs.Int("workers", -1, "override workers (0 = one per CPU)")
	metricsAddr := fs.String("metrics-addr", "", "address to serve /metrics on, empty disables it")
	debug := fs.Bool("debug", false, "use a development (console, debug-level) logger")
	showVersion := fs.BoolP("version", "v", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flagutil.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *showVersion {
		fmt.Println(proxy.ServerHeader)
		return 0
	}

	log, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 1
	}
	defer log.Sync()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Error("loading config", zap.Error(err))
			return 1
		}
	}
	if *bindHost != "" {
		cfg.BindHost = *bindHost
	}
	if *bindPort != 0 {
		cfg.BindPort = *bindPort
	}
	if *workers >= 0 {
		cfg.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", zap.Error(err))
		return 1
	}

	routes := make([]router.Route, 0, len(cfg.Routes))
	for _, raw := range cfg.Routes {
		rt, err := router.Parse(raw)
		if err != nil {
			log.Error("bad upstream route", zap.String("route", raw), zap.Error(err))
			return 1
		}
		routes = append(routes, rt)
	}

	listener, err := listen(cfg)
	if err != nil {
		log.Error("binding listener", zap.String("addr", cfg.BindAddr()), zap.Error(err))
		return 1
	}
	defer listener.Close()

	var proxyMetrics *metrics.Proxy
	if *metricsAddr != "" {
		proxyMetrics = metrics.New(prometheus.DefaultRegisterer)
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	opts := proxy.Options{
		Router: router.NewRoundRobin(routes...),
		Pool:   connpool.New(cfg.PoolSize),
		// No filters are wired by this binary; embedders that need a
		// filter pipeline construct their own proxy.Options and call
		// proxy.New directly rather than going through pyroxd.
		Filters: filter.NewRegistry(log, func() []filter.Filter { return nil }, func() []filter.Filter { return nil }),
		Metrics: proxyMetrics,
		Log:     log,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serveAll(ctx, listener, cfg.EffectiveWorkers(runtime.NumCPU()), opts, log)
	log.Info("pyroxd shut down cleanly")
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func listen(cfg config.Config) (net.Listener, error) {
	listener, err := net.Listen("tcp", cfg.BindAddr())
	if err != nil {
		return nil, err
	}
	if cfg.TLSCertPath == "" {
		return listener, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("loading TLS keypair: %w", err)
	}
	return tls.NewListener(listener, &tls.Config{Certificates: []tls.Certificate{cert}}), nil
}

// serveAll runs n worker goroutines Accept()-ing off the shared
// listener — the idiomatic stand-in for the original's forked worker
// processes, since a single Go listener and goroutine pool already
// gives every worker a fair share of incoming connections without a
// SO_REUSEPORT dance. It blocks until ctx is canceled, then closes the
// listener and waits for the accept goroutines to return. Connections
// already being served run on their own goroutines and are not waited
// for.
func serveAll(ctx context.Context, listener net.Listener, n int, opts proxy.Options, log *zap.Logger) {
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			acceptLoop(listener, opts, log)
		}()
	}

	<-ctx.Done()
	listener.Close()
	wg.Wait()
}

func acceptLoop(listener net.Listener, opts proxy.Options, log *zap.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if isClosedErr(err) {
				return
			}
			if log != nil {
				log.Warn("accept", zap.Error(err))
			}
			continue
		}
		go func() {
			eng := proxy.New(conn, opts)
			if err := eng.Serve(); err != nil && log != nil {
				log.Debug("connection closed", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
			}
		}()
	}
}

func isClosedErr(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return netErr.Err.Error() == "use of closed network connection"
	}
	return false
}
