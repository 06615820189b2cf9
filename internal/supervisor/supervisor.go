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

// Package supervisor implements the Supervisor Loop (C4): a 10 Hz scan
// over every Controlled Process that detects exits, runs specialization
// on_exit hooks, applies restart policy, prunes dead entries, and drains
// surviving processes' output into the broadcast channel.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sturdyfool10/fleetwatch/internal/audit"
	"github.com/sturdyfool10/fleetwatch/internal/fleet"
	"github.com/sturdyfool10/fleetwatch/internal/metrics"
	"github.com/sturdyfool10/fleetwatch/internal/process"
	"github.com/sturdyfool10/fleetwatch/pkg/models"
)

// auditTimeout bounds every audit write issued from the tick loop; none of
// them should ever block the 10 Hz cadence.
const auditTimeout = 50 * time.Millisecond

const tickInterval = 100 * time.Millisecond

// Loop owns the fleet-wide tick. One Loop exists per process.
type Loop struct {
	fleet *fleet.State
	log   *slog.Logger
}

// New returns a Loop bound to state.
func New(state *fleet.State, log *slog.Logger) *Loop {
	return &Loop{fleet: state, log: log}
}

// Run ticks at 10 Hz until ctx is cancelled. It is meant to be run in its
// own goroutine for the lifetime of the process.
func (l *Loop) Run(ctx context.Context) {
	l.fleet.SetRunning(true)
	defer l.fleet.SetRunning(false)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick runs exactly one supervisor pass: exit observation, exit frames,
// on_exit hooks, restart scheduling, pruning, then output drains for
// survivors (spec.md section 4.4).
func (l *Loop) tick() {
	servers := l.fleet.Servers()
	dead := make(map[*process.Controlled]struct{})

	for _, c := range servers {
		code, exited := c.TryWait()
		if !exited {
			continue
		}

		l.fleet.Broadcaster().Publish(models.ServerOutputFrame{
			Type:       "ServerOutput",
			Output:     fmt.Sprintf(`<span style="color: var(--warning)">[Server exited with code %d]</span>`, code),
			ServerName: c.Name(),
			ServerType: c.SpecializationName(),
		})

		if handler := c.Handler(); handler != nil {
			handler.OnExit(c, l.fleet, code)
		}
		l.recordAudit(func(ctx context.Context, log *audit.Log) error {
			return log.RecordProcessExited(ctx, c.Name(), code)
		})

		if code != 0 && c.CrashPrevention() && l.fleet.GlobalCrashPrevention() {
			desc := c.Descriptor()
			desc.CrashPrevention = l.originalCrashPrevention(desc.Name, desc.CrashPrevention)
			l.fleet.ScheduleRestart(desc)
			metrics.IncServerRestart(desc.Name)
			l.recordAudit(func(ctx context.Context, log *audit.Log) error {
				return log.RecordRestartScheduled(ctx, desc.Name)
			})
		}

		dead[c] = struct{}{}
	}

	l.fleet.RemoveServers(dead)

	for _, desc := range l.fleet.DrainPendingRestarts() {
		l.spawn(desc)
	}

	survivors := l.fleet.Servers()
	metrics.SetActiveProcesses(len(survivors))

	for _, c := range survivors {
		if _, marked := dead[c]; marked {
			continue
		}
		if out := c.ReadOutput(); out != "" {
			l.fleet.Broadcaster().Publish(models.ServerOutputFrame{
				Type:       "ServerOutput",
				Output:     out,
				ServerName: c.Name(),
				ServerType: c.SpecializationName(),
			})
		}
	}
}

// Spawn resolves desc's specialization, starts the child, and adds it to
// the fleet. It is exported so configChange/stdinInput handlers in C6 can
// reuse the exact same spawn path the supervisor uses for restarts.
func (l *Loop) Spawn(desc models.ProgramDescriptor) (*process.Controlled, error) {
	return l.spawn(desc)
}

// originalCrashPrevention looks up name's descriptor in the live config and
// returns its crash_prevention flag, so a restart always preserves the
// operator's configured intent rather than whatever the live process
// happened to carry (spec.md section 4.4). Falls back to live when the
// descriptor is no longer in the config (e.g. it was added ad hoc).
func (l *Loop) originalCrashPrevention(name string, live bool) bool {
	for _, desc := range l.fleet.Config().Servers {
		if desc.Name == name {
			return desc.CrashPrevention
		}
	}
	return live
}

func (l *Loop) spawn(desc models.ProgramDescriptor) (*process.Controlled, error) {
	handler, ok := l.fleet.Registry.Resolve(desc.Specialization)
	if !ok {
		l.log.Warn("unknown specialization, running generic",
			"server", desc.Name, "specialization", desc.Specialization, "allowed", l.fleet.Registry.Names())
	}

	c, err := process.Spawn(desc, handler, l.log)
	if err != nil {
		l.log.Error("spawn failed", "server", desc.Name, "error", err)
		return nil, err
	}
	l.fleet.AddServer(c)
	l.recordAudit(func(ctx context.Context, log *audit.Log) error {
		return log.RecordProcessSpawned(ctx, desc.Name, desc.Specialization)
	})
	return c, nil
}

// recordAudit calls fn against the fleet's attached audit log, if any, with
// a short timeout so a slow disk never stalls a tick or a spawn. Failures
// are logged, not propagated — auditing is best-effort.
func (l *Loop) recordAudit(fn func(ctx context.Context, log *audit.Log) error) {
	log := l.fleet.Audit()
	if log == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := fn(ctx, log); err != nil {
		l.log.Warn("audit record failed", "error", err)
	}
}
