package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidateRejectsBadWorkers(t *testing.T) {
	c := Default()
	c.Workers = -1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for negative workers")
	}
}

func TestValidateRejectsBadBindPort(t *testing.T) {
	c := Default()
	c.BindPort = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for zero bind port")
	}
}

func TestValidateRejectsEmptyRoutes(t *testing.T) {
	c := Default()
	c.Routes = nil
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty routes")
	}
}

func TestValidateRejectsLonesomeTLSPath(t *testing.T) {
	c := Default()
	c.TLSCertPath = "cert.pem"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when tls_key is missing")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyrox.yaml")
	yamlBody := "bind_host: 0.0.0.0\nbind_port: 9090\nworkers: 4\nupstream_hosts:\n  - host0:80\n  - host1:80\npool_size: 10\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindHost != "0.0.0.0" || cfg.BindPort != 9090 || cfg.Workers != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.Routes) != 2 || cfg.Routes[0] != "host0:80" {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}
	if cfg.BindAddr() != "0.0.0.0:9090" {
		t.Fatalf("BindAddr() = %q", cfg.BindAddr())
	}
}

func TestEffectiveWorkers(t *testing.T) {
	c := Default()
	c.Workers = 0
	if got := c.EffectiveWorkers(8); got != 8 {
		t.Fatalf("EffectiveWorkers(8) = %d, want 8", got)
	}
	c.Workers = 3
	if got := c.EffectiveWorkers(8); got != 3 {
		t.Fatalf("EffectiveWorkers(8) = %d, want 3", got)
	}
}
