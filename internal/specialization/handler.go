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

// Package specialization implements the Specialization Registry & Handlers
// (spec component C2): a name-keyed factory of per-server-type parsers that
// pre-configure a child process's environment, parse its output for
// domain-specific events, maintain typed status, and react to its exit.
//
// The package is deliberately decoupled from internal/process and
// internal/fleet: handlers only see the narrow ProcessHandle/FleetHandle
// views below, so the process and fleet packages can depend on
// specialization without specialization ever depending back on them.
package specialization

import "github.com/sturdyfool10/fleetwatch/pkg/models"

// ProcessHandle is the read-only view of a ControlledProcess a handler
// needs: identity and the attributes required to rebuild a descriptor for
// a handler-triggered restart.
type ProcessHandle interface {
	Name() string
	ExePath() string
	Arguments() []string
	WorkingDir() string
	SpecializationName() string
	CrashPrevention() bool
}

// FleetHandle is the narrow slice of FleetState a handler's on-exit hook
// may act on: scheduling a replacement process and emitting a console
// frame, without giving the handler access to the rest of the fleet.
type FleetHandle interface {
	ScheduleRestart(desc models.ProgramDescriptor)
	BroadcastWarning(serverName, serverType, html string)
}

// Handler is the per-server-type plug-in contract (spec.md section 4.2).
type Handler interface {
	// PreInit mutates the process environment before the child is spawned.
	PreInit(env map[string]string, desc models.ProgramDescriptor)
	// Init runs once the process exists; it may inspect the working
	// directory and seed the handler's status state.
	Init(p ProcessHandle) error
	// ParseOutput consumes one line (no trailing newline) and returns the
	// HTML to emit, or emit=false to drop the line.
	ParseOutput(line string, p ProcessHandle) (html string, emit bool)
	// OnExit reacts to the process terminating.
	OnExit(p ProcessHandle, fleet FleetHandle, exitCode int)
	// Status returns a JSON-marshalable snapshot for fleet reports.
	Status() any
	// HasStatusUpdate marks whether the last ParseOutput call changed
	// Status(), for callers that want to batch status pushes.
	HasStatusUpdate() bool
}

// Base provides the trait's default (no-op) method bodies; built-in
// handlers embed it and override only what they need, mirroring the
// default-method trait in the source implementation.
type Base struct{}

func (Base) PreInit(map[string]string, models.ProgramDescriptor) {}
func (Base) OnExit(ProcessHandle, FleetHandle, int)              {}
func (Base) Status() any                                         { return nil }
func (Base) HasStatusUpdate() bool                               { return false }
