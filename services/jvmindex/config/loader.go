// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: index.backend is read from
// JVMINDEX_INDEX_BACKEND.
const EnvPrefix = "JVMINDEX"

// ErrInvalidConfig is returned when the loaded configuration fails
// validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultPath returns ~/.jvmindex/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".jvmindex", "config.yaml"), nil
}

// Loader reads a Config. Precedence, highest first: Set, environment,
// file, defaults.
type Loader struct {
	path   string
	create bool
	out    io.Writer
	v      *viper.Viper
}

// NewLoader returns a loader for the file at path. An empty path reads
// defaults and environment only.
func NewLoader(path string) *Loader {
	return &Loader{path: path, out: os.Stderr, v: viper.New()}
}

// CreateIfMissing makes Load write the default file when path does not
// exist, announcing it on out.
func (l *Loader) CreateIfMissing(out io.Writer) *Loader {
	l.create = true
	if out != nil {
		l.out = out
	}
	return l
}

// Set overrides key (dotted, e.g. "index.backend"). Used for CLI flags.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load reads, merges and validates the configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Default()
	base, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	l.v.SetConfigType("yaml")
	if err := l.v.ReadConfig(bytes.NewReader(base)); err != nil {
		return cfg, fmt.Errorf("reading defaults: %w", err)
	}

	if l.path != "" {
		if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
			if !l.create {
				return cfg, fmt.Errorf("config file %s: %w", l.path, err)
			}
			fmt.Fprintf(l.out, "First run detected, creating the config at %s\n", l.path)
			if err := createDefault(l.path); err != nil {
				return cfg, err
			}
		}
		l.v.SetConfigFile(l.path)
		if err := l.v.MergeInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read the config file %s: %w", l.path, err)
		}
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode the config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks cfg against its field constraints. Violations are
// reported together, wrapped in ErrInvalidConfig.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: %v violates %s", field, fe.Value(), rule))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}
