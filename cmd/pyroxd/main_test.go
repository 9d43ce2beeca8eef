package main

import (
	"os"
	"testing"
)

func TestRunVersionFlag(t *testing.T) {
	if code := run([]string{"--version"}); code != 0 {
		t.Fatalf("run(--version) = %d, want 0", code)
	}
}

func TestRunMissingConfigFile(t *testing.T) {
	if code := run([]string{"--config", "/nonexistent/pyrox.yaml"}); code != 1 {
		t.Fatalf("run(bad config) = %d, want 1", code)
	}
}

func TestRunBadUpstreamRoute(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/pyrox.yaml"
	body := "upstream_hosts:\n  - \"://nope\"\n"
	if err := writeFile(path, body); err != nil {
		t.Fatal(err)
	}
	if code := run([]string{"--config", path}); code != 1 {
		t.Fatalf("run(bad route) = %d, want 1", code)
	}
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}
