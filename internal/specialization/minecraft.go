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

package specialization

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/sturdyfool10/fleetwatch/internal/ansihtml"
	"github.com/sturdyfool10/fleetwatch/pkg/models"
)

var (
	mcMaxPlayersPattern = regexp.MustCompile(`max-players=(\d+)`)
	mcJoinPattern       = regexp.MustCompile(`(\w+)\[/\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d+\] logged in with entity id`)
	mcLeavePattern      = regexp.MustCompile(`\]: (\w+) lost connection`)
	mcReadyPattern      = regexp.MustCompile(`Done \(\d+\.\d+s\)! For help, type "help"`)
	mcLevelPattern      = regexp.MustCompile(`\[([^\]/]+/)?([A-Z]+)\]`)
)

// MinecraftStatus is the status_info shape seeded at Init and mutated by
// ParseOutput (spec.md section 4.2).
type MinecraftStatus struct {
	PlayerCount int      `json:"player_count"`
	MaxPlayers  int      `json:"max_players"`
	Ready       bool     `json:"ready"`
	PlayerList  []string `json:"player_list"`
}

// Minecraft implements the Minecraft server specialization: join/leave/
// ready parsing, bracket-colorized console lines, and EULA auto-accept.
type Minecraft struct {
	Base

	mu          sync.Mutex
	status      MinecraftStatus
	statusDirty bool
}

// NewMinecraft returns a fresh Minecraft handler with a zeroed status.
func NewMinecraft() *Minecraft {
	return &Minecraft{status: MinecraftStatus{MaxPlayers: 20, PlayerList: []string{}}}
}

// Init reads max-players from <working_dir>/server.properties, defaulting
// to 20 when the file is absent or the key is missing.
func (m *Minecraft) Init(p ProcessHandle) error {
	maxPlayers := 20
	data, err := os.ReadFile(filepath.Join(p.WorkingDir(), "server.properties"))
	if err == nil {
		if caps := mcMaxPlayersPattern.FindSubmatch(data); caps != nil {
			if n, convErr := strconv.Atoi(string(caps[1])); convErr == nil {
				maxPlayers = n
			}
		}
	}
	m.mu.Lock()
	m.status = MinecraftStatus{MaxPlayers: maxPlayers, PlayerList: []string{}}
	m.mu.Unlock()
	return nil
}

// ParseOutput updates player_count/player_list/ready and returns the
// bracket-colorized HTML rendering of the line.
func (m *Minecraft) ParseOutput(line string, _ ProcessHandle) (string, bool) {
	m.mu.Lock()
	dirty := false
	if caps := mcJoinPattern.FindStringSubmatch(line); caps != nil {
		m.status.PlayerCount++
		m.status.PlayerList = append(m.status.PlayerList, caps[1])
		dirty = true
	}
	if caps := mcLeavePattern.FindStringSubmatch(line); caps != nil {
		if m.status.PlayerCount > 0 {
			m.status.PlayerCount--
		}
		m.status.PlayerList = removeName(m.status.PlayerList, caps[1])
		dirty = true
	}
	if mcReadyPattern.MatchString(line) {
		if !m.status.Ready {
			dirty = true
		}
		m.status.Ready = true
	}
	m.statusDirty = dirty
	m.mu.Unlock()

	return colorizeMinecraftLine(line), true
}

// OnExit patches eula.txt and schedules a restart when the server shut
// itself down because the EULA had not been accepted. Per spec.md section
// 4.2 this runs asynchronously so the supervisor tick is never blocked on
// filesystem I/O.
func (m *Minecraft) OnExit(p ProcessHandle, fleet FleetHandle, _ int) {
	name := p.Name()
	exePath := p.ExePath()
	args := append([]string(nil), p.Arguments()...)
	workingDir := p.WorkingDir()
	specName := p.SpecializationName()
	crashPrevention := p.CrashPrevention()

	go func() {
		eulaPath := filepath.Join(workingDir, "eula.txt")
		data, err := os.ReadFile(eulaPath)
		if err != nil {
			return
		}
		if !containsEulaFalse(string(data)) {
			return
		}
		if err := os.WriteFile(eulaPath, []byte("eula=true\n"), 0o644); err != nil {
			return
		}

		fleet.BroadcastWarning(name, specName,
			`<span style="color: var(--warning)">[EULA was set to false. Automatically set eula=true and restarting the server.]</span>`)

		fleet.ScheduleRestart(models.ProgramDescriptor{
			Name:            name,
			ExePath:         exePath,
			Arguments:       args,
			WorkingDir:      workingDir,
			AutoStart:       false,
			CrashPrevention: crashPrevention,
			Specialization:  specName,
		})
	}()
}

func containsEulaFalse(contents string) bool {
	for _, line := range strings.Split(contents, "\n") {
		if strings.TrimSpace(line) == "eula=false" {
			return true
		}
	}
	return false
}

func removeName(list []string, name string) []string {
	out := list[:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// Status returns a snapshot of the current player/readiness state.
func (m *Minecraft) Status() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	playerList := append([]string(nil), m.status.PlayerList...)
	return MinecraftStatus{
		PlayerCount: m.status.PlayerCount,
		MaxPlayers:  m.status.MaxPlayers,
		Ready:       m.status.Ready,
		PlayerList:  playerList,
	}
}

// HasStatusUpdate reports whether the most recent ParseOutput call changed
// player/readiness state.
func (m *Minecraft) HasStatusUpdate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusDirty
}

// colorizeMinecraftLine extracts up to three leading bracketed blocks and
// colorizes them: block 1 faded, block 2 by log level, block 3 success.
func colorizeMinecraftLine(line string) string {
	if strings.TrimSpace(line) == "" {
		return "<br>"
	}

	blocks, rest := extractLeadingBrackets(line, 3)

	var fadedTime, coloredLevel, coloredThird string
	if len(blocks) > 0 {
		fadedTime = `<span style="opacity:0.5;">` + ansihtml.EscapeHTML(blocks[0]) + `</span>`
	}
	if len(blocks) > 1 {
		level := ""
		if caps := mcLevelPattern.FindStringSubmatch(blocks[1]); caps != nil {
			level = caps[2]
		}
		coloredLevel = `<span style="color:` + levelColorVar(level) + `;">` + ansihtml.EscapeHTML(blocks[1]) + `</span>`
	}
	if len(blocks) > 2 {
		coloredThird = `<span style="color:var(--success);">` + ansihtml.EscapeHTML(blocks[2]) + `</span>`
	}

	colon := ""
	message := strings.TrimSpace(rest)
	if idx := strings.Index(rest, ":"); idx >= 0 {
		colon = ": "
		message = strings.TrimSpace(rest[idx+1:])
	}

	messageHTML := "&nbsp;"
	if message != "" {
		messageHTML = ansihtml.EscapeHTML(message)
	}

	return fadedTime + coloredLevel + coloredThird + colon + messageHTML + "<br>"
}

func levelColorVar(level string) string {
	switch {
	case strings.Contains(level, "ERROR"), strings.Contains(level, "FATAL"):
		return "var(--danger)"
	case strings.Contains(level, "WARN"):
		return "var(--warning)"
	case strings.Contains(level, "INFO"):
		return "var(--info)"
	default:
		return "var(--success)"
	}
}

// extractLeadingBrackets walks leading, whitespace-separated "[...]"
// blocks (brackets may nest) up to max blocks, and returns them alongside
// whatever text followed the last block.
func extractLeadingBrackets(line string, max int) ([]string, string) {
	var blocks []string
	i := 0
	n := len(line)
	for i < n && len(blocks) < max {
		for i < n && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= n || line[i] != '[' {
			break
		}
		start := i
		depth := 0
		for i < n {
			switch line[i] {
			case '[':
				depth++
			case ']':
				depth--
			}
			i++
			if depth == 0 {
				break
			}
		}
		if depth != 0 {
			// Unterminated bracket: treat the rest of the line as trailing
			// text rather than a block.
			i = start
			break
		}
		blocks = append(blocks, line[start:i])
	}
	return blocks, line[i:]
}
