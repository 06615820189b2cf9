// fleetwatch is a multi-process game-server supervisor.
// Copyright (C) 2026 The fleetwatch authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads, validates, and persists fleetwatch's config.json
// (spec.md section 6).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sturdyfool10/fleetwatch/pkg/models"
)

// Default returns the configuration written out the first time
// fleetwatch runs in a directory with no config.json.
func Default() models.Config {
	return models.Config{
		Interface:             "0.0.0.0",
		Port:                  "8080",
		Servers:               []models.ProgramDescriptor{},
		Slave:                 false,
		Slaves:                []models.SlaveDescriptor{},
		Themes:                "themes",
		GlobalCrashPrevention: boolPtr(true),
	}
}

func boolPtr(v bool) *bool { return &v }

// Load reads path and decodes a Config. A missing file is not an error: it
// writes out Default() and returns that instead (spec.md section 7's
// "config load failure" policy — absent config is expected on first run).
func Load(path string) (models.Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if saveErr := Save(path, cfg); saveErr != nil {
			return cfg, fmt.Errorf("write default config: %w", saveErr)
		}
		return cfg, nil
	}
	if err != nil {
		return models.Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg models.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return models.Config{}, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// applyDefaults fills in zero-value fields a hand-edited or older
// config.json might be missing, without touching fields that are present.
func applyDefaults(cfg *models.Config) {
	if cfg.Interface == "" {
		cfg.Interface = "0.0.0.0"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Servers == nil {
		cfg.Servers = []models.ProgramDescriptor{}
	}
	if cfg.Slaves == nil {
		cfg.Slaves = []models.SlaveDescriptor{}
	}
	if cfg.Themes == "" {
		cfg.Themes = "themes"
	}
	if cfg.GlobalCrashPrevention == nil {
		cfg.GlobalCrashPrevention = boolPtr(true)
	}
}

// Save persists cfg to path as pretty-printed JSON (spec.md section 6).
func Save(path string, cfg models.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks cfg for the constraints fleetwatch relies on: a non-empty
// port, and servers with unique non-empty names and an exe_path.
func Validate(cfg models.Config) error {
	if cfg.Port == "" {
		return fmt.Errorf("port must not be empty")
	}

	seen := make(map[string]struct{}, len(cfg.Servers))
	for _, desc := range cfg.Servers {
		if desc.Name == "" {
			return fmt.Errorf("server descriptor missing name")
		}
		if _, dup := seen[desc.Name]; dup {
			return fmt.Errorf("duplicate server name %q", desc.Name)
		}
		seen[desc.Name] = struct{}{}
		if desc.ExePath == "" {
			return fmt.Errorf("server %q missing exe_path", desc.Name)
		}
	}
	return nil
}
