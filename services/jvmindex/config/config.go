// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads jvmindex configuration from a YAML file and
// JVMINDEX_* environment variables.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/AleutianAI/jvmindex/pkg/logging"
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
	"github.com/AleutianAI/jvmindex/services/jvmindex/telemetry"
)

// Config is the complete configuration of a jvmindex process.
type Config struct {
	Index     IndexConfig      `yaml:"index" mapstructure:"index"`
	Jobs      JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
	Telemetry telemetry.Config `yaml:"telemetry" mapstructure:"telemetry"`
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
}

// IndexConfig selects and tunes the persistent index.
type IndexConfig struct {
	// Backend is "badger" or "sqlite".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=badger sqlite"`

	// Dir is the index directory. A leading ~ is expanded.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required_unless=InMemory true"`

	// InMemory keeps the index in RAM (badger only).
	InMemory bool `yaml:"in_memory" mapstructure:"in_memory"`

	SyncWrites     bool          `yaml:"sync_writes" mapstructure:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" mapstructure:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" mapstructure:"gc_discard_ratio" validate:"gte=0,lt=1"`
}

// JobsConfig sizes the background indexing pool.
type JobsConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers" validate:"min=1"`
	Retain  int `yaml:"retain" mapstructure:"retain" validate:"min=1"`

	// Background schedules archive walks when a classpath is opened.
	Background bool `yaml:"background" mapstructure:"background"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// ServerConfig configures `jvmindex serve`.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	Watch           bool          `yaml:"watch" mapstructure:"watch"`
	WatchDebounce   time.Duration `yaml:"watch_debounce" mapstructure:"watch_debounce" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Default returns the configuration used when no file or variable says
// otherwise.
func Default() Config {
	return Config{
		Index: IndexConfig{
			Backend:        "badger",
			Dir:            filepath.Join("~", ".jvmindex", "index"),
			SyncWrites:     true,
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Jobs: JobsConfig{
			Workers:    runtime.GOMAXPROCS(0),
			Retain:     1024,
			Background: true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Addr:            "127.0.0.1:12230",
			WatchDebounce:   200 * time.Millisecond,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// StoreConfig converts the index section for index.OpenStore.
func (c IndexConfig) StoreConfig(logger *slog.Logger) index.StoreConfig {
	return index.StoreConfig{
		Backend:        c.Backend,
		Dir:            ExpandPath(c.Dir),
		InMemory:       c.InMemory,
		SyncWrites:     c.SyncWrites,
		GCInterval:     c.GCInterval,
		GCDiscardRatio: c.GCDiscardRatio,
		Logger:         logger,
	}
}

// SchedulerConfig converts the jobs section for jobs.New.
func (c JobsConfig) SchedulerConfig(logger *slog.Logger) jobs.Config {
	return jobs.Config{Workers: c.Workers, Retain: c.Retain, Logger: logger}
}

// LoggingConfig converts the log section for logging.New. The level has
// already been validated.
func (c LogConfig) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: "jvmindex",
		JSON:    c.JSON,
	}
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
