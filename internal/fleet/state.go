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

// Package fleet holds the Shared Fleet State (C5): the guarded
// local/remote/slave sub-collections, the live configuration, the
// specialization registry, and the broadcast publisher that the
// supervisor loop and websocket engine both depend on.
package fleet

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sturdyfool10/fleetwatch/internal/audit"
	"github.com/sturdyfool10/fleetwatch/internal/process"
	"github.com/sturdyfool10/fleetwatch/internal/specialization"
	"github.com/sturdyfool10/fleetwatch/pkg/models"
)

// SlaveClient is the narrow view of a slave poller connection that fleet
// needs: a name to forward stdinInput to, and a best-effort forward. The
// slavepoll package implements this; fleet never imports slavepoll, which
// keeps C5 and C7 decoupled the same way specialization and process are.
type SlaveClient interface {
	Descriptor() models.SlaveDescriptor
	ForwardStdin(serverName, value string)
}

// State is the hub component (C5): every other component reaches the
// fleet through it rather than holding direct references to one another.
//
// Lock ordering is fixed: config -> servers -> slaveConnections ->
// remoteServers. No holder suspends on I/O while holding more than one of
// these locks.
type State struct {
	log *slog.Logger

	Registry    *specialization.Registry
	broadcaster *Broadcaster

	configMu   sync.RWMutex
	config     models.Config
	configPath string

	serversMu sync.Mutex
	servers   []*process.Controlled

	slavesMu sync.Mutex
	slaves   []SlaveClient

	remoteMu sync.Mutex
	remote   map[string]models.RemoteServerInfo

	restartMu sync.Mutex
	pending   []models.ProgramDescriptor

	running atomic.Bool

	auditMu sync.RWMutex
	audit   *audit.Log
}

var _ specialization.FleetHandle = (*State)(nil)

// NewState builds a fleet hub seeded with cfg, persisted at configPath.
func NewState(cfg models.Config, configPath string, registry *specialization.Registry, log *slog.Logger) *State {
	return &State{
		log:         log,
		Registry:    registry,
		broadcaster: NewBroadcaster(),
		config:      cfg,
		configPath:  configPath,
		remote:      make(map[string]models.RemoteServerInfo),
	}
}

// Broadcaster returns the fan-out hub that C4 publishes into and C6
// subscribes from.
func (s *State) Broadcaster() *Broadcaster { return s.broadcaster }

// Config returns a copy of the current configuration.
func (s *State) Config() models.Config {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

// ConfigPath returns the on-disk path config.json is persisted to.
func (s *State) ConfigPath() string {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.configPath
}

// SetConfig overwrites the in-memory configuration.
func (s *State) SetConfig(cfg models.Config) {
	s.configMu.Lock()
	s.config = cfg
	s.configMu.Unlock()
}

// GlobalCrashPrevention reports the kill-switch that, when false, disables
// every crash-driven restart regardless of a descriptor's own flag.
func (s *State) GlobalCrashPrevention() bool {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config.CrashPreventionEnabled()
}

// Running reports whether the supervisor loop is active.
func (s *State) Running() bool { return s.running.Load() }

// SetRunning updates the supervisor's running flag.
func (s *State) SetRunning(v bool) { s.running.Store(v) }

// Servers returns a snapshot slice of the live local processes. Mutating
// the returned slice does not affect fleet state.
func (s *State) Servers() []*process.Controlled {
	s.serversMu.Lock()
	defer s.serversMu.Unlock()
	out := make([]*process.Controlled, len(s.servers))
	copy(out, s.servers)
	return out
}

// AddServer appends a newly spawned process to local_servers.
func (s *State) AddServer(c *process.Controlled) {
	s.serversMu.Lock()
	defer s.serversMu.Unlock()
	s.servers = append(s.servers, c)
}

// RemoveServers deletes every local process whose address appears in dead,
// preserving order of survivors. The supervisor calls this once per tick
// with the set of processes it saw exit, so removal is a single O(n) pass
// regardless of gaps.
func (s *State) RemoveServers(dead map[*process.Controlled]struct{}) {
	if len(dead) == 0 {
		return
	}
	s.serversMu.Lock()
	defer s.serversMu.Unlock()
	var survivors []*process.Controlled
	for _, c := range s.servers {
		if _, marked := dead[c]; !marked {
			survivors = append(survivors, c)
		}
	}
	s.servers = survivors
}

// FindServer looks up a live local process by name.
func (s *State) FindServer(name string) (*process.Controlled, bool) {
	s.serversMu.Lock()
	defer s.serversMu.Unlock()
	for _, c := range s.servers {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// ClearServers empties local_servers and returns the processes that were
// live, for the caller to stop (terminateServers, configChange).
func (s *State) ClearServers() []*process.Controlled {
	s.serversMu.Lock()
	defer s.serversMu.Unlock()
	out := s.servers
	s.servers = nil
	return out
}

// ScheduleRestart enqueues desc for the supervisor to spawn on its next
// tick. It implements specialization.FleetHandle.
func (s *State) ScheduleRestart(desc models.ProgramDescriptor) {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	s.pending = append(s.pending, desc)
}

// DrainPendingRestarts removes and returns every queued restart.
func (s *State) DrainPendingRestarts() []models.ProgramDescriptor {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// BroadcastWarning publishes a ServerOutput frame carrying pre-rendered
// HTML. It implements specialization.FleetHandle.
func (s *State) BroadcastWarning(serverName, serverType, html string) {
	s.broadcaster.Publish(models.ServerOutputFrame{
		Type:       "ServerOutput",
		Output:     html,
		ServerName: serverName,
		ServerType: serverType,
	})
}

// AddSlaveClient registers a connected slave poller client.
func (s *State) AddSlaveClient(c SlaveClient) {
	s.slavesMu.Lock()
	defer s.slavesMu.Unlock()
	s.slaves = append(s.slaves, c)
}

// SlaveClients returns a snapshot of the connected slave poller clients.
func (s *State) SlaveClients() []SlaveClient {
	s.slavesMu.Lock()
	defer s.slavesMu.Unlock()
	out := make([]SlaveClient, len(s.slaves))
	copy(out, s.slaves)
	return out
}

// MergeRemoteServer inserts or updates a slave-provided server entry,
// matched by name (spec.md section 4.7).
func (s *State) MergeRemoteServer(info models.RemoteServerInfo) {
	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()
	s.remote[info.Name] = info
}

// RemoteServers returns a snapshot of every known remote server.
func (s *State) RemoteServers() []models.RemoteServerInfo {
	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()
	out := make([]models.RemoteServerInfo, 0, len(s.remote))
	for _, info := range s.remote {
		out = append(out, info)
	}
	return out
}

// Log exposes the shared logger to collaborating components that were
// built from fleet state rather than given their own logger.
func (s *State) Log() *slog.Logger { return s.log }

// SetAudit attaches the append-only event log. It is nil until main wires
// one up, and every caller of Audit must handle that.
func (s *State) SetAudit(log *audit.Log) {
	s.auditMu.Lock()
	s.audit = log
	s.auditMu.Unlock()
}

// Audit returns the attached event log, or nil if none was configured.
func (s *State) Audit() *audit.Log {
	s.auditMu.RLock()
	defer s.auditMu.RUnlock()
	return s.audit
}
