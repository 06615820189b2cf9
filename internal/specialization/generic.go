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

import "github.com/sturdyfool10/fleetwatch/internal/ansihtml"

// Generic is the handler attached to processes with no specialization
// named, or an unrecognized one. It does nothing beyond what the Output
// Transcoder (C1) already does, so every process spawned through the
// registry carries a concrete handler.
type Generic struct {
	Base
}

// NewGeneric returns a fresh Generic handler.
func NewGeneric() *Generic { return &Generic{} }

func (*Generic) Init(ProcessHandle) error { return nil }

func (*Generic) ParseOutput(line string, _ ProcessHandle) (string, bool) {
	return ansihtml.Transcode([]byte(line)), true
}
