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

// TerrariaStatus is the status_info shape for Terraria servers. Terraria's
// own console protocol doesn't expose join/leave events the way Minecraft's
// does, so this is a placeholder the way the source project treats it.
type TerrariaStatus struct {
	PlayerCount int `json:"player_count"`
	MaxPlayers  int `json:"max_players"`
}

// Terraria is a stub specialization: it seeds a zeroed status and passes
// output through unchanged, reserving a named slot for future per-line
// parsing (spec.md section 4.2).
type Terraria struct {
	Base
	status TerrariaStatus
}

// NewTerraria returns a fresh Terraria handler.
func NewTerraria() *Terraria { return &Terraria{} }

func (t *Terraria) Init(ProcessHandle) error {
	t.status = TerrariaStatus{}
	return nil
}

func (t *Terraria) ParseOutput(line string, _ ProcessHandle) (string, bool) {
	return line, true
}

func (t *Terraria) Status() any { return t.status }
