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
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/sturdyfool10/fleetwatch/internal/ansihtml"
)

var (
	vsJoinPattern       = regexp.MustCompile(`\[Server Event\].*joins\.`)
	vsDisconnectPattern = regexp.MustCompile(`\[Server Event\].*disconnected\.`)
	vsCalendarPause     = "[Server Notification] All clients disconnected, pausing game calendar."
	vsCalendarResume    = "[Server Notification] A client reconnected, resuming game calendar."
	vsBracketPattern    = regexp.MustCompile(`^\[Server (\w+)\]`)
)

// VintageStoryStatus is the status_info shape for Vintage Story servers.
type VintageStoryStatus struct {
	ServerName     string `json:"server_name"`
	MaxClients     uint   `json:"max_clients"`
	PlayerCount    int    `json:"player_count"`
	CalendarPaused bool   `json:"calendar_paused"`
}

// VintageStory implements the Vintage Story server specialization:
// serverconfig.json discovery, join/disconnect/calendar-pause parsing, and
// bracket-colorized console lines (spec.md section 4.2).
type VintageStory struct {
	Base

	mu     sync.Mutex
	status VintageStoryStatus
}

// NewVintageStory returns a fresh Vintage Story handler.
func NewVintageStory() *VintageStory { return &VintageStory{} }

type vsServerConfig struct {
	ServerName string `json:"ServerName"`
	MaxClients uint   `json:"MaxClients"`
}

// Init reads ServerName/MaxClients from serverconfig.json under the
// OS-specific VintagestoryData directory.
func (v *VintageStory) Init(ProcessHandle) error {
	status := VintageStoryStatus{}
	if data, err := os.ReadFile(filepath.Join(vintageStoryDataDir(), "serverconfig.json")); err == nil {
		var cfg vsServerConfig
		if json.Unmarshal(data, &cfg) == nil {
			status.ServerName = cfg.ServerName
			status.MaxClients = cfg.MaxClients
		}
	}
	v.mu.Lock()
	v.status = status
	v.mu.Unlock()
	return nil
}

func vintageStoryDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "VintagestoryData")
		}
	case "darwin":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, "Library", "Application Support", "VintagestoryData")
		}
	default:
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", "VintagestoryData")
		}
	}
	return "./VintagestoryData"
}

// ParseOutput tracks player joins/disconnects and calendar pause state, and
// returns the line with its "[Server <type>]" bracket colorized by type.
func (v *VintageStory) ParseOutput(line string, _ ProcessHandle) (string, bool) {
	v.mu.Lock()
	switch {
	case vsJoinPattern.MatchString(line):
		v.status.PlayerCount++
	case vsDisconnectPattern.MatchString(line):
		if v.status.PlayerCount > 0 {
			v.status.PlayerCount--
		}
	}
	switch strings.TrimSpace(line) {
	case vsCalendarPause:
		v.status.CalendarPaused = true
	case vsCalendarResume:
		v.status.CalendarPaused = false
	}
	v.mu.Unlock()

	return colorizeVintageStoryLine(line), true
}

// Status returns a snapshot of the current server/player/calendar state.
func (v *VintageStory) Status() any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

func colorizeVintageStoryLine(line string) string {
	caps := vsBracketPattern.FindStringSubmatch(line)
	if caps == nil {
		return ansihtml.EscapeHTML(line) + "<br>"
	}
	bracketEnd := strings.Index(line, "]") + 1
	color := vintageStoryTypeColor(caps[1])
	bracket := `<span style="color:` + color + `;">` + ansihtml.EscapeHTML(line[:bracketEnd]) + `</span>`
	return bracket + ansihtml.EscapeHTML(line[bracketEnd:]) + "<br>"
}

func vintageStoryTypeColor(kind string) string {
	switch strings.ToUpper(kind) {
	case "NOTIFICATION":
		return "var(--info)"
	case "DEBUG":
		return "var(--debug)"
	case "EVENT":
		return "var(--event)"
	case "ERROR", "FATAL":
		return "var(--danger)"
	case "WARN", "WARNING":
		return "var(--warning)"
	case "SUCCESS":
		return "var(--success)"
	case "INFO":
		return "var(--info)"
	default:
		return "var(--info)"
	}
}
