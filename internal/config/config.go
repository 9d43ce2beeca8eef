// Package config loads and validates the proxy's external configuration
// (spec.md §1 OUT OF SCOPE, consumed by the core via §6 "Config
// consumed"). It is read by cmd/pyroxd and handed down to
// internal/proxy, internal/router and internal/connpool constructors;
// none of those packages import config back, keeping the core ignorant
// of YAML/flags (SPEC_FULL.md §A.1).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of operator-supplied knobs (spec.md §6).
type Config struct {
	// BindHost/BindPort is the listen address.
	BindHost string `yaml:"bind_host"`
	BindPort int    `yaml:"bind_port"`

	// Workers is the number of accept goroutines sharing the listener
	// (SPEC_FULL.md cmd/pyroxd: the idiomatic replacement for forked
	// worker processes). 0 means "one per CPU (runtime.NumCPU)" per the
	// original's processes=0 convention (original_source
	// server/config.py CoreConfiguration.processes).
	Workers int `yaml:"workers"`

	// Routes is the list of default upstream routes, "host:port" or
	// "scheme://host:port" strings (router.Parse).
	Routes []string `yaml:"upstream_hosts"`

	// PoolSize is K, the per-route idle connection cap (connpool.Pool).
	PoolSize int `yaml:"pool_size"`

	// IdleTimeout is loaded from the config file but is not applied:
	// neither connpool nor the proxy engine reads it, so pooled upstream
	// connections and half-open engines have no idle timeout.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// TLSCertPath/TLSKeyPath are optional; set together to terminate
	// TLS on the downstream listener (spec.md §1 "TLS details beyond
	// 'the transport may be wrapped'" is the core's only contract here).
	TLSCertPath string `yaml:"tls_cert"`
	TLSKeyPath  string `yaml:"tls_key"`
}

// Default returns a Config with the original's defaults (original_source
// pyrox/config.py _CFG_DEFAULTS): one worker, localhost:8080 bind,
// localhost:80 upstream, pool size 5.
func Default() Config {
	return Config{
		BindHost: "localhost",
		BindPort: 8080,
		Workers:  1,
		Routes:   []string{"localhost:80"},
		PoolSize: 5,
	}
}

// Load reads and unmarshals a YAML config file at path over Default(),
// so unset fields keep their defaults (original_source's ConfigParser
// default-section behavior, §A.1).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a negative worker count and an unparsable bind
// address, carrying forward original_source/pyrox/server/config.py's
// validation rules (SPEC_FULL.md §C.3).
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	if strings.TrimSpace(c.BindHost) == "" {
		return fmt.Errorf("config: bind_host must not be empty")
	}
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return fmt.Errorf("config: bind_port %d out of range", c.BindPort)
	}
	if _, err := net.LookupPort("tcp", strconv.Itoa(c.BindPort)); err != nil {
		return fmt.Errorf("config: bad bind port: %w", err)
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("config: at least one upstream route is required")
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return fmt.Errorf("config: tls_cert and tls_key must be set together")
	}
	return nil
}

// BindAddr returns the "host:port" listen address.
func (c Config) BindAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.BindPort))
}

// EffectiveWorkers resolves Workers==0 to runtime.NumCPU() at the call
// site in cmd/pyroxd; config itself stays free of the runtime import so
// it remains trivially unit-testable.
func (c Config) EffectiveWorkers(numCPU int) int {
	if c.Workers > 0 {
		return c.Workers
	}
	return numCPU
}
