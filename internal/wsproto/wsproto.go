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

// Package wsproto implements the Websocket Protocol Engine (C6): the /ws
// upgrade handler, the per-connection outbound/inbound pump pair, dual
// JSON/MessagePack framing, and the full inbound message taxonomy.
package wsproto

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sturdyfool10/fleetwatch/internal/config"
	"github.com/sturdyfool10/fleetwatch/internal/fleet"
	"github.com/sturdyfool10/fleetwatch/internal/metrics"
	"github.com/sturdyfool10/fleetwatch/internal/supervisor"
	"github.com/sturdyfool10/fleetwatch/pkg/models"
)

// auditWriteTimeout bounds how long a configChange handler waits on the
// audit log before giving up; the write is best-effort.
const auditWriteTimeout = 50 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Engine owns the /ws route: it upgrades connections and wires each one
// to the fleet's broadcast channel and the restart/stop operations that
// require spawning through the supervisor loop.
type Engine struct {
	fleet *fleet.State
	loop  *supervisor.Loop
	log   *slog.Logger
}

// New returns an Engine bound to state and loop.
func New(state *fleet.State, loop *supervisor.Loop, log *slog.Logger) *Engine {
	return &Engine{fleet: state, loop: loop, log: log}
}

// ServeHTTP upgrades the request to a websocket connection and runs its
// outbound/inbound pump pair until either ends.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	session := &connSession{
		conn:   conn,
		engine: e,
		sub:    e.fleet.Broadcaster().Subscribe(),
		quit:   make(chan struct{}),
	}
	defer e.fleet.Broadcaster().Unsubscribe(session.sub)
	defer conn.Close()

	metrics.IncWebsocketConnections()
	defer metrics.DecWebsocketConnections()

	// The two pumps are a cooperative task pair: when either ends, quit
	// is closed so the other notices and exits rather than leaking
	// (spec.md section 4.6).
	done := make(chan struct{}, 2)
	go func() { session.inboundPump(); session.closeQuit(); conn.Close(); done <- struct{}{} }()
	go func() { session.outboundPump(); session.closeQuit(); conn.Close(); done <- struct{}{} }()
	<-done
	<-done
}

// connSession pairs one websocket connection with its broadcast
// subscription. The outbound and inbound pumps are cooperative tasks:
// when either ends (remote close, local error), the connection tears
// down and the other pump exits too (spec.md section 4.6).
type connSession struct {
	conn   *websocket.Conn
	engine *Engine
	sub    *fleet.Subscription
	quit   chan struct{}

	writeMu  sync.Mutex
	quitOnce sync.Once
}

func (s *connSession) closeQuit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// outboundPump drains the broadcast channel, sending ConfigInfo frames as
// TEXT/JSON and everything else as BINARY/MessagePack (falling back to
// TEXT/JSON on an encoding failure). It exits when quit is closed by the
// inbound pump ending; a failed write is logged and does not end it.
func (s *connSession) outboundPump() {
	for {
		select {
		case frame := <-s.sub.C():
			s.send(frame)
		case <-s.quit:
			return
		}
	}
}

func (s *connSession) send(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.engine.log.Warn("frame json marshal failed", "error", err)
		return
	}

	if isConfigInfo(data) {
		s.writeMu.Lock()
		err := s.conn.WriteMessage(websocket.TextMessage, data)
		s.writeMu.Unlock()
		if err != nil {
			s.engine.log.Debug("outbound text write failed", "error", err)
		}
		return
	}

	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		s.engine.log.Warn("frame re-decode failed", "error", err)
		return
	}
	packed, err := msgpack.Marshal(generic)
	if err != nil {
		s.writeMu.Lock()
		werr := s.conn.WriteMessage(websocket.TextMessage, data)
		s.writeMu.Unlock()
		if werr != nil {
			s.engine.log.Debug("outbound fallback text write failed", "error", werr)
		}
		return
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.BinaryMessage, packed)
	s.writeMu.Unlock()
	if err != nil {
		s.engine.log.Debug("outbound binary write failed", "error", err)
	}
}

func isConfigInfo(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &probe) != nil {
		return false
	}
	return probe.Type == "ConfigInfo"
}

// inboundPump reads frames until the connection closes. TEXT frames
// dispatch directly; BINARY frames are decoded as MessagePack and
// re-serialized to JSON before dispatch, so Dispatch only ever sees JSON.
func (s *connSession) inboundPump() {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		switch kind {
		case websocket.TextMessage:
			s.dispatch(data)
		case websocket.BinaryMessage:
			var decoded map[string]any
			if err := msgpack.Unmarshal(data, &decoded); err != nil {
				s.engine.log.Debug("inbound messagepack decode failed", "error", err)
				continue
			}
			reencoded, err := json.Marshal(decoded)
			if err != nil {
				s.engine.log.Debug("inbound re-encode failed", "error", err)
				continue
			}
			s.dispatch(reencoded)
		}
	}
}

// inboundEnvelope captures only the routing discriminator; payload fields
// are re-parsed per message type in dispatch.
type inboundEnvelope struct {
	Type string `json:"type"`
}

func (s *connSession) dispatch(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError("malformed message")
		return
	}

	switch env.Type {
	case "requestConfig", "getConfig":
		s.publishConfig()
	case "getThemesList":
		s.handleGetThemesList()
	case "getThemeCSS":
		s.handleGetThemeCSS(data)
	case "requestInfo":
		s.handleRequestInfo(data)
	case "stdinInput":
		s.handleStdinInput(data)
	case "configChange":
		s.handleConfigChange(data)
	case "terminateServers":
		s.handleTerminateServers()
	default:
		s.engine.log.Debug("unrecognized inbound message type", "type", env.Type)
	}
}

func (s *connSession) sendError(message string) {
	s.send(models.ErrorFrame{Type: "error", Message: message})
}

func (s *connSession) publishConfig() {
	s.engine.fleet.Broadcaster().Publish(models.ConfigInfoFrame{
		Type:   "ConfigInfo",
		Config: s.engine.fleet.Config(),
	})
}

func (s *connSession) handleGetThemesList() {
	names := s.engine.listThemes()
	s.engine.fleet.Broadcaster().Publish(models.ThemesListFrame{Type: "themesList", Themes: names})
}

func (e *Engine) listThemes() []string {
	dir := e.fleet.Config().Themes
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.log.Warn("themes folder unreadable", "dir", dir, "error", err)
		return nil
	}
	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(ent.Name()), ".css") {
			names = append(names, strings.TrimSuffix(ent.Name(), filepath.Ext(ent.Name())))
		}
	}
	return names
}

const defaultThemeName = "default"

type themeCSSRequest struct {
	ThemeName string `json:"theme_name"`
}

func (s *connSession) handleGetThemeCSS(data []byte) {
	var req themeCSSRequest
	_ = json.Unmarshal(data, &req)

	name := req.ThemeName
	css, err := s.engine.readThemeCSS(name)
	if err != nil {
		name = defaultThemeName
		css, err = s.engine.readThemeCSS(name)
		if err != nil {
			s.sendError("no theme CSS available")
			return
		}
	}

	s.engine.fleet.Broadcaster().Publish(models.ThemeCSSFrame{
		Type:      "themeCSS",
		ThemeName: name,
		CSS:       css,
	})
}

func (e *Engine) readThemeCSS(name string) (string, error) {
	dir := e.fleet.Config().Themes
	data, err := os.ReadFile(filepath.Join(dir, name+".css"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type requestInfoMessage struct {
	Arguments []bool `json:"arguments"`
}

func (s *connSession) handleRequestInfo(data []byte) {
	var req requestInfoMessage
	_ = json.Unmarshal(data, &req)
	includeOutput := len(req.Arguments) > 0 && req.Arguments[0]

	entries := buildServerInfo(s.engine.fleet, includeOutput)
	s.engine.fleet.Broadcaster().Publish(models.ServerInfoFrame{
		Type:    "ServerInfo",
		Servers: entries,
		Config:  s.engine.fleet.Config(),
	})
}

type stdinInputMessage struct {
	ServerName string `json:"server_name"`
	Value      string `json:"value"`
}

func (s *connSession) handleStdinInput(data []byte) {
	var req stdinInputMessage
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError("malformed stdinInput")
		return
	}

	matched := false
	if proc, ok := s.engine.fleet.FindServer(req.ServerName); ok {
		proc.WriteStdin(req.Value)
		matched = true
	}

	for _, slave := range s.engine.fleet.SlaveClients() {
		slave.ForwardStdin(req.ServerName, req.Value)
	}

	if !matched && req.Value == "start" {
		for _, desc := range s.engine.fleet.Config().Servers {
			if desc.Name == req.ServerName {
				if _, err := s.engine.loop.Spawn(desc); err != nil {
					s.sendError("start failed: " + err.Error())
				}
				break
			}
		}
	}
}

type configChangeMessage struct {
	UpdatedConfigCamel *models.Config `json:"updatedConfig"`
	UpdatedConfigSnake *models.Config `json:"updated_config"`
}

func (s *connSession) handleConfigChange(data []byte) {
	var req configChangeMessage
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError("malformed configChange")
		return
	}
	updated := req.UpdatedConfigCamel
	if updated == nil {
		updated = req.UpdatedConfigSnake
	}
	if updated == nil {
		s.sendError("configChange missing updated_config")
		return
	}

	s.engine.stopAll()
	s.engine.fleet.SetConfig(*updated)
	if err := config.Save(s.engine.fleet.ConfigPath(), *updated); err != nil {
		s.engine.log.Error("config save failed", "error", err)
	}
	if log := s.engine.fleet.Audit(); log != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := log.RecordConfigChanged(ctx, fmt.Sprintf("%d servers configured", len(updated.Servers))); err != nil {
			s.engine.log.Warn("audit record failed", "error", err)
		}
		cancel()
	}

	for _, desc := range updated.Servers {
		if !desc.AutoStart {
			continue
		}
		if _, err := s.engine.loop.Spawn(desc); err != nil {
			s.engine.log.Error("auto_start spawn failed", "server", desc.Name, "error", err)
		}
	}

	s.engine.fleet.Broadcaster().Publish(models.ConfigInfoFrame{
		Type:   "ConfigInfo",
		Config: s.engine.fleet.Config(),
	})
}

func (s *connSession) handleTerminateServers() {
	s.engine.stopAll()
}

// stopAll stops every live local process, emitting a termination frame
// for each, then clears the fleet (spec.md section 4.6).
func (e *Engine) stopAll() {
	for _, proc := range e.fleet.ClearServers() {
		proc.Stop()
		e.fleet.Broadcaster().Publish(models.ServerOutputFrame{
			Type:       "ServerOutput",
			Output:     `<span style="color: var(--warning)">[Server terminated]</span>`,
			ServerName: proc.Name(),
			ServerType: proc.SpecializationName(),
		})
	}
}

// buildServerInfo assembles the ServerInfo entries: every local process,
// every remote server, and every configured-but-inactive descriptor not
// already listed (spec.md section 4.6).
func buildServerInfo(state *fleet.State, includeOutput bool) []models.ServerInfoEntry {
	listed := make(map[string]struct{})
	var entries []models.ServerInfoEntry

	for _, proc := range state.Servers() {
		output := ""
		if includeOutput {
			output = proc.Tail()
		}
		var specInfo []byte
		if h := proc.Handler(); h != nil {
			specInfo, _ = json.Marshal(h.Status())
		}
		entries = append(entries, models.ServerInfoEntry{
			Name:            proc.Name(),
			Output:          output,
			Active:          proc.Active(),
			Specialization:  proc.SpecializationName(),
			SpecializedInfo: specInfo,
		})
		listed[proc.Name()] = struct{}{}
	}

	for _, remote := range state.RemoteServers() {
		if _, dup := listed[remote.Name]; dup {
			continue
		}
		host := remote.Host
		entries = append(entries, models.ServerInfoEntry{
			Name:            remote.Name,
			Output:          remote.Output,
			Active:          remote.Active,
			Specialization:  remote.Specialization,
			SpecializedInfo: remote.SpecializedInfo,
			Host:            &host,
		})
		listed[remote.Name] = struct{}{}
	}

	for _, desc := range state.Config().Servers {
		if _, dup := listed[desc.Name]; dup {
			continue
		}
		entries = append(entries, models.ServerInfoEntry{
			Name:            desc.Name,
			Active:          false,
			Specialization:  desc.Specialization,
			SpecializedInfo: desc.SpecializationOptions,
		})
		listed[desc.Name] = struct{}{}
	}

	return entries
}
