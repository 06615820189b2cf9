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

// Package slavepoll implements the Slave Poller (C7): on master boot, one
// websocket client per configured slave that polls requestInfo at 4 Hz and
// merges results into the fleet's remote_servers, plus best-effort
// stdinInput forwarding.
package slavepoll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sturdyfool10/fleetwatch/internal/audit"
	"github.com/sturdyfool10/fleetwatch/internal/fleet"
	"github.com/sturdyfool10/fleetwatch/internal/metrics"
	"github.com/sturdyfool10/fleetwatch/pkg/models"
)

const (
	pollInterval    = 250 * time.Millisecond
	pollDeadline    = 10 * time.Millisecond
	forwardDeadline = time.Millisecond
)

var _ fleet.SlaveClient = (*Poller)(nil)

// Poller manages one websocket client connection to a single slave.
type Poller struct {
	desc  models.SlaveDescriptor
	fleet *fleet.State
	log   *slog.Logger

	conn   *websocket.Conn
	stdinQ chan stdinForward
}

type stdinForward struct {
	serverName string
	value      string
}

// Descriptor satisfies fleet.SlaveClient.
func (p *Poller) Descriptor() models.SlaveDescriptor { return p.desc }

// ForwardStdin enqueues a best-effort stdinInput write for the slave
// connection. It never blocks the caller (spec.md section 4.7).
func (p *Poller) ForwardStdin(serverName, value string) {
	select {
	case p.stdinQ <- stdinForward{serverName: serverName, value: value}:
	default:
	}
}

// Dial connects to one configured slave. Connection failures are logged
// and the slave is simply omitted from polling — spec.md section 7 leaves
// reconnection unspecified, so Dial is called once at master boot.
func Dial(desc models.SlaveDescriptor, state *fleet.State, log *slog.Logger) (*Poller, error) {
	url := fmt.Sprintf("ws://%s:%s/ws", desc.Address, desc.Port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial slave %s:%s: %w", desc.Address, desc.Port, err)
	}
	return &Poller{
		desc:   desc,
		fleet:  state,
		log:    log,
		conn:   conn,
		stdinQ: make(chan stdinForward, 64),
	}, nil
}

// Run polls at 4 Hz until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	defer p.conn.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	host := models.Host{Address: p.desc.Address, Port: p.desc.Port}

	for {
		select {
		case <-ctx.Done():
			return
		case fwd := <-p.stdinQ:
			p.sendStdinInput(fwd)
		case <-ticker.C:
			p.pollOnce(host)
		}
	}
}

func (p *Poller) pollOnce(host models.Host) {
	slaveLabel := fmt.Sprintf("%s:%s", p.desc.Address, p.desc.Port)
	started := time.Now()

	req := map[string]any{"type": "requestInfo", "arguments": []bool{true}}
	payload, err := msgpack.Marshal(req)
	if err != nil {
		p.log.Warn("slave poll encode failed", "slave", p.desc.Address, "error", err)
		metrics.IncSlavePollFailure(slaveLabel)
		return
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(pollDeadline))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		p.log.Warn("slave poll write failed", "slave", p.desc.Address, "error", err)
		metrics.IncSlavePollFailure(slaveLabel)
		return
	}

	_ = p.conn.SetReadDeadline(time.Now().Add(pollDeadline))
	kind, data, err := p.conn.ReadMessage()
	if err != nil {
		p.log.Debug("slave poll read timed out or failed", "slave", p.desc.Address, "error", err)
		metrics.IncSlavePollFailure(slaveLabel)
		return
	}

	metrics.ObserveSlavePollLatency(slaveLabel, time.Since(started))
	p.handleFrame(kind, data, host)
}

func (p *Poller) handleFrame(kind int, data []byte, host models.Host) {
	if kind != websocket.BinaryMessage {
		if kind == websocket.TextMessage {
			p.mergeServerInfo(data, host)
		}
		return
	}

	var decoded map[string]any
	if err := msgpack.Unmarshal(data, &decoded); err != nil {
		// Not valid MessagePack: decode as UTF-8 and rebroadcast locally
		// rather than dropping it (spec.md section 4.7).
		p.fleet.Broadcaster().Publish(models.ServerOutputFrame{
			Type:       "ServerOutput",
			Output:     string(data),
			ServerName: p.desc.Address,
		})
		return
	}

	reencoded, err := json.Marshal(decoded)
	if err != nil {
		return
	}
	p.mergeServerInfo(reencoded, host)
}

func (p *Poller) mergeServerInfo(data []byte, host models.Host) {
	var frame models.ServerInfoFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Type != "ServerInfo" {
		return
	}
	for _, entry := range frame.Servers {
		p.fleet.MergeRemoteServer(models.RemoteServerInfo{
			Name:            entry.Name,
			Output:          entry.Output,
			Active:          entry.Active,
			Specialization:  entry.Specialization,
			SpecializedInfo: entry.SpecializedInfo,
			Host:            host,
		})
	}
}

func (p *Poller) sendStdinInput(fwd stdinForward) {
	payload, err := json.Marshal(map[string]string{
		"type":        "stdinInput",
		"server_name": fwd.serverName,
		"value":       fwd.value,
	})
	if err != nil {
		return
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(forwardDeadline))
	_ = p.conn.WriteMessage(websocket.TextMessage, payload)
}

// StartAll dials every configured slave, registers the ones that connect
// with the fleet, and runs each in its own goroutine until ctx is
// cancelled.
func StartAll(ctx context.Context, state *fleet.State, log *slog.Logger) {
	for _, desc := range state.Config().Slaves {
		address := fmt.Sprintf("%s:%s", desc.Address, desc.Port)
		poller, err := Dial(desc, state, log)
		if err != nil {
			log.Warn("slave connection failed", "address", desc.Address, "port", desc.Port, "error", err)
			recordAudit(state, func(auditCtx context.Context, a *audit.Log) error {
				return a.RecordSlaveDisconnected(auditCtx, address, err.Error())
			})
			continue
		}
		state.AddSlaveClient(poller)
		recordAudit(state, func(auditCtx context.Context, a *audit.Log) error {
			return a.RecordSlaveConnected(auditCtx, address)
		})
		go poller.Run(ctx)
	}
}

func recordAudit(state *fleet.State, fn func(ctx context.Context, a *audit.Log) error) {
	log := state.Audit()
	if log == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), forwardDeadline*50)
	defer cancel()
	if err := fn(ctx, log); err != nil {
		state.Log().Warn("audit record failed", "error", err)
	}
}
