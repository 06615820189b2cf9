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

package fleet

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sturdyfool10/fleetwatch/internal/process"
	"github.com/sturdyfool10/fleetwatch/internal/specialization"
	"github.com/sturdyfool10/fleetwatch/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boolPtr(v bool) *bool { return &v }

func newTestState() *State {
	registry := specialization.NewRegistry()
	registry.RegisterBuiltins()
	cfg := models.Config{GlobalCrashPrevention: boolPtr(true)}
	return NewState(cfg, "config.json", registry, testLogger())
}

func TestScheduleRestartDrainsOnce(t *testing.T) {
	s := newTestState()
	s.ScheduleRestart(models.ProgramDescriptor{Name: "a"})
	s.ScheduleRestart(models.ProgramDescriptor{Name: "b"})

	first := s.DrainPendingRestarts()
	if len(first) != 2 {
		t.Fatalf("len(first) = %d, want 2", len(first))
	}
	second := s.DrainPendingRestarts()
	if len(second) != 0 {
		t.Fatalf("len(second) = %d, want 0", len(second))
	}
}

func TestBroadcastWarningPublishesServerOutput(t *testing.T) {
	s := newTestState()
	sub := s.Broadcaster().Subscribe()
	defer s.Broadcaster().Unsubscribe(sub)

	s.BroadcastWarning("my-server", "minecraft", "<span>warning</span>")

	select {
	case frame := <-sub.C():
		out, ok := frame.(models.ServerOutputFrame)
		if !ok {
			t.Fatalf("frame type = %T, want models.ServerOutputFrame", frame)
		}
		if out.ServerName != "my-server" || out.ServerType != "minecraft" {
			t.Errorf("frame = %+v, unexpected fields", out)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast frame")
	}
}

func TestBroadcasterDropsOldestWhenFull(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < broadcastCapacity+10; i++ {
		b.Publish(i)
	}

	first := <-sub.C()
	if first.(int) == 0 {
		t.Error("expected the oldest frames to have been dropped, got frame 0 first")
	}
}

func TestRemoveServersPreservesSurvivorOrder(t *testing.T) {
	s := newTestState()
	a, _ := process.Spawn(models.ProgramDescriptor{Name: "a", ExePath: "/bin/sh", Arguments: []string{"-c", "sleep 5"}, WorkingDir: t.TempDir()}, nil, testLogger())
	b, _ := process.Spawn(models.ProgramDescriptor{Name: "b", ExePath: "/bin/sh", Arguments: []string{"-c", "sleep 5"}, WorkingDir: t.TempDir()}, nil, testLogger())
	c, _ := process.Spawn(models.ProgramDescriptor{Name: "c", ExePath: "/bin/sh", Arguments: []string{"-c", "sleep 5"}, WorkingDir: t.TempDir()}, nil, testLogger())
	defer a.Stop()
	defer b.Stop()
	defer c.Stop()

	s.AddServer(a)
	s.AddServer(b)
	s.AddServer(c)

	s.RemoveServers(map[*process.Controlled]struct{}{b: {}})

	names := []string{}
	for _, srv := range s.Servers() {
		names = append(names, srv.Name())
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Errorf("Servers() = %v, want [a c]", names)
	}
}

func TestFindServerMissing(t *testing.T) {
	s := newTestState()
	if _, ok := s.FindServer("nope"); ok {
		t.Error("FindServer found a server that was never added")
	}
}

func TestMergeRemoteServerUpdatesInPlace(t *testing.T) {
	s := newTestState()
	s.MergeRemoteServer(models.RemoteServerInfo{Name: "remote-1", Active: true, Output: "first"})
	s.MergeRemoteServer(models.RemoteServerInfo{Name: "remote-1", Active: false, Output: "second"})

	servers := s.RemoteServers()
	if len(servers) != 1 {
		t.Fatalf("len(servers) = %d, want 1", len(servers))
	}
	if servers[0].Output != "second" || servers[0].Active {
		t.Errorf("servers[0] = %+v, want updated in place", servers[0])
	}
}
