// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fuzzbed/go-persist/harness"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PERSIST_BIN", "PERSIST_WORKDIR", "PERSIST_TRANSPORT",
		"PERSIST_MAX_LEN", "PERSIST_MAX_ITERS", "PERSIST_TIMEOUT",
		"PERSIST_HTTP", "PERSIST_MSAN", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != harness.TransportStream {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.MaxLen != harness.DefaultMaxLen || cfg.Budget != harness.DefaultMaxIters {
		t.Errorf("MaxLen = %v, Budget = %v", cfg.MaxLen, cfg.Budget)
	}
	if time.Duration(cfg.Timeout) != 10*time.Second {
		t.Errorf("Timeout = %v", time.Duration(cfg.Timeout))
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "persist.yaml")
	file := `
bin: ./harness.bin
workdir: ./work
transport: shm
max_len: 4096
budget: 500
timeout: 250ms
log_level: debug
msan: true
`
	if err := os.WriteFile(path, []byte(file), 0660); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bin != "./harness.bin" || cfg.Workdir != "./work" {
		t.Errorf("Bin = %q, Workdir = %q", cfg.Bin, cfg.Workdir)
	}
	if cfg.Transport != harness.TransportShm || cfg.MaxLen != 4096 || cfg.Budget != 500 {
		t.Errorf("Transport = %q, MaxLen = %v, Budget = %v", cfg.Transport, cfg.MaxLen, cfg.Budget)
	}
	if time.Duration(cfg.Timeout) != 250*time.Millisecond {
		t.Errorf("Timeout = %v", time.Duration(cfg.Timeout))
	}
	if !cfg.MSan {
		t.Error("MSan not set")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "persist.yaml")
	if err := os.WriteFile(path, []byte("bin: ./file.bin\nmax_len: 100\n"), 0660); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PERSIST_BIN", "./env.bin")
	t.Setenv("PERSIST_MAX_LEN", "2048")
	t.Setenv("PERSIST_TIMEOUT", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bin != "./env.bin" {
		t.Errorf("Bin = %q, env should win", cfg.Bin)
	}
	if cfg.MaxLen != 2048 {
		t.Errorf("MaxLen = %v, env should win", cfg.MaxLen)
	}
	if time.Duration(cfg.Timeout) != 3*time.Second {
		t.Errorf("Timeout = %v", time.Duration(cfg.Timeout))
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte(`1m30s`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if time.Duration(d) != 90*time.Second {
		t.Fatalf("Duration = %v", time.Duration(d))
	}
	if err := yaml.Unmarshal([]byte(`soon`), &d); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Bin = "./harness.bin"
		cfg.Workdir = "./work"
		return cfg
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"no bin":        func(c *Config) { c.Bin = "" },
		"no workdir":    func(c *Config) { c.Workdir = "" },
		"bad transport": func(c *Config) { c.Transport = "carrier-pigeon" },
		"zero max_len":  func(c *Config) { c.MaxLen = 0 },
		"zero budget":   func(c *Config) { c.Budget = 0 },
	} {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%v: accepted", name)
		}
	}
}

func TestChildEnv(t *testing.T) {
	cfg := Default()
	if env := cfg.ChildEnv(); len(env) != 0 {
		t.Fatalf("ChildEnv = %v, want empty", env)
	}
	cfg.MSan = true
	env := cfg.ChildEnv()
	if len(env) != 1 || env[0] != "PERSIST_MSAN=1" {
		t.Fatalf("ChildEnv = %v", env)
	}
}
