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

// Package models holds the wire/config-facing types shared across
// fleetwatch's packages: the on-disk configuration shape, the per-process
// descriptor, and the snapshot types returned over the websocket protocol.
package models

import "encoding/json"

// ProgramDescriptor is the configuration record for one managed process.
// It is the only form a process takes before it is spawned, and it is what
// auto_start, crash-triggered restarts, and configChange all operate on.
type ProgramDescriptor struct {
	Name                  string          `json:"name"`
	ExePath               string          `json:"exe_path"`
	Arguments             []string        `json:"arguments"`
	WorkingDir            string          `json:"working_dir"`
	AutoStart             bool            `json:"auto_start"`
	CrashPrevention       bool            `json:"crash_prevention"`
	Specialization        string          `json:"specialized_server_type,omitempty"`
	SpecializationOptions json.RawMessage `json:"specialization_options,omitempty"`
}

// SlaveDescriptor names one slave a master polls.
type SlaveDescriptor struct {
	Address string `json:"address"`
	Port    string `json:"port"`
}

// Config is the serialized state-of-the-world, persisted as pretty-printed
// JSON at config.json (spec.md section 6).
type Config struct {
	Interface string              `json:"interface"`
	Port      string              `json:"port"`
	Servers   []ProgramDescriptor `json:"servers"`
	Slave     bool                `json:"slave"`
	Slaves    []SlaveDescriptor   `json:"slave_connections"`
	Themes    string              `json:"themes_folder,omitempty"`

	// GlobalCrashPrevention is a kill-switch: when false every crash-driven
	// restart is skipped regardless of a descriptor's own crash_prevention
	// flag (spec.md section 9, resolving the open question on
	// global_crash_prevention). Defaults to true; a pointer so an absent
	// key on load can be told apart from an explicit false (see
	// config.applyDefaults).
	GlobalCrashPrevention *bool `json:"global_crash_prevention,omitempty"`
}

// CrashPreventionEnabled reports the effective value of
// GlobalCrashPrevention, treating an absent (nil) field as true — the
// same default Default() writes out explicitly.
func (c Config) CrashPreventionEnabled() bool {
	return c.GlobalCrashPrevention == nil || *c.GlobalCrashPrevention
}

// Host identifies the slave a RemoteServerInfo entry was polled from.
type Host struct {
	Address string `json:"address"`
	Port    string `json:"port"`
}

// RemoteServerInfo is a slave-provided view of one of its servers, as seen
// by a master after a successful requestInfo poll.
type RemoteServerInfo struct {
	Name            string          `json:"name"`
	Output          string          `json:"output"`
	Active          bool            `json:"active"`
	Specialization  string          `json:"specialization,omitempty"`
	SpecializedInfo json.RawMessage `json:"specialized_info,omitempty"`
	Host            Host            `json:"host"`
}

// ServerInfoEntry is one element of the ServerInfo push message (spec.md
// section 4.6): local, remote, and configured-but-inactive servers are all
// rendered through this shape.
type ServerInfoEntry struct {
	Name            string          `json:"name"`
	Output          string          `json:"output"`
	Active          bool            `json:"active"`
	Specialization  string          `json:"specialization,omitempty"`
	SpecializedInfo json.RawMessage `json:"specialized_info,omitempty"`
	Host            *Host           `json:"host,omitempty"`
}

// ServerOutputFrame is the per-process console frame published into the
// broadcast channel by the supervisor loop and by specialization-driven
// warnings (spec.md section 4.6).
type ServerOutputFrame struct {
	Type       string `json:"type"`
	Output     string `json:"output"`
	ServerName string `json:"server_name"`
	ServerType string `json:"server_type,omitempty"`
}

// ConfigInfoFrame carries a full configuration snapshot. The outbound pump
// recognizes this frame by its Type field and sends it as TEXT/JSON even
// when every other frame is transcoded to MessagePack.
type ConfigInfoFrame struct {
	Type   string `json:"type"`
	Config Config `json:"config"`
}

// ServerInfoFrame answers a requestInfo request.
type ServerInfoFrame struct {
	Type    string            `json:"type"`
	Servers []ServerInfoEntry `json:"servers"`
	Config  Config            `json:"config"`
}

// ThemesListFrame answers a getThemesList request.
type ThemesListFrame struct {
	Type   string   `json:"type"`
	Themes []string `json:"themes"`
}

// ThemeCSSFrame answers a getThemeCSS request.
type ThemeCSSFrame struct {
	Type      string `json:"type"`
	ThemeName string `json:"theme_name"`
	CSS       string `json:"css"`
}

// ErrorFrame is sent back to a sender when an inbound message fails to
// parse or dispatch (spec.md section 7).
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
