// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config assembles the driver configuration from an optional
// YAML file and the environment. Environment values win over file
// values; both win over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/fuzzbed/go-persist/harness"
)

// Duration accepts "10s"-style values in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	td, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", value.Value, err)
	}
	*d = Duration(td)
	return nil
}

type Config struct {
	Bin       string   `yaml:"bin"`       // harness binary to drive
	Workdir   string   `yaml:"workdir"`   // corpus/, crashers/, suppressions/ live here
	Transport string   `yaml:"transport"` // stream or shm
	MaxLen    int      `yaml:"max_len"`
	Budget    int      `yaml:"budget"`
	Timeout   Duration `yaml:"timeout"`
	HTTP      string   `yaml:"http"` // stats endpoint listen address, empty disables
	LogLevel  string   `yaml:"log_level"`

	// MSan requests the strict memory-safety instrumentation build of
	// both harness and target. It changes build configuration only;
	// the loop behaves identically either way. Surfaced here so build
	// scripts and the child environment see one consistent value.
	MSan bool `yaml:"msan"`
}

func Default() *Config {
	return &Config{
		Transport: harness.TransportStream,
		MaxLen:    harness.DefaultMaxLen,
		Budget:    harness.DefaultMaxIters,
		Timeout:   Duration(10 * time.Second),
		LogLevel:  "info",
	}
}

// Load builds the configuration. path may be empty (no file).
func Load(path string) (*Config, error) {
	godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %v: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %v: %w", path, err)
		}
	}

	if v := os.Getenv("PERSIST_BIN"); v != "" {
		cfg.Bin = v
	}
	if v := os.Getenv("PERSIST_WORKDIR"); v != "" {
		cfg.Workdir = v
	}
	if v := os.Getenv("PERSIST_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	cfg.MaxLen = parseInt(os.Getenv("PERSIST_MAX_LEN"), cfg.MaxLen)
	cfg.Budget = parseInt(os.Getenv("PERSIST_MAX_ITERS"), cfg.Budget)
	cfg.Timeout = Duration(parseDuration(os.Getenv("PERSIST_TIMEOUT"), time.Duration(cfg.Timeout)))
	if v := os.Getenv("PERSIST_HTTP"); v != "" {
		cfg.HTTP = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.MSan = parseBool(os.Getenv("PERSIST_MSAN"), cfg.MSan)

	return cfg, nil
}

// Validate rejects configurations the harness would refuse anyway, so
// the mistake surfaces here instead of as a child exit code.
func (c *Config) Validate() error {
	if c.Bin == "" {
		return fmt.Errorf("config: no harness binary (set -bin, PERSIST_BIN, or bin: in the file)")
	}
	if c.Workdir == "" {
		return fmt.Errorf("config: no workdir")
	}
	if c.Transport != harness.TransportStream && c.Transport != harness.TransportShm {
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.MaxLen <= 0 {
		return fmt.Errorf("config: max_len must be positive, got %v", c.MaxLen)
	}
	if c.Budget <= 0 {
		return fmt.Errorf("config: budget must be positive, got %v", c.Budget)
	}
	return nil
}

// ChildEnv returns the environment entries the harness process needs
// beyond what Options already sets.
func (c *Config) ChildEnv() []string {
	var env []string
	if c.MSan {
		env = append(env, "PERSIST_MSAN=1")
	}
	return env
}

// NewLogger builds the process logger for the requested level.
func NewLogger(logLevel string) *zap.Logger {
	level := zapcore.InfoLevel
	switch logLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	lg, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return lg
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
