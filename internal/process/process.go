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

// Package process implements the Controlled Process (C3): spawning one
// child game-server, piping its stdin/stdout, draining output through its
// specialization handler, and stopping it with a bounded wait.
package process

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sturdyfool10/fleetwatch/internal/ansihtml"
	"github.com/sturdyfool10/fleetwatch/internal/specialization"
	"github.com/sturdyfool10/fleetwatch/pkg/crypto"
	"github.com/sturdyfool10/fleetwatch/pkg/models"
)

const (
	readChunkSize = 4096
	readTimeout   = 10 * time.Millisecond
	stopWait      = 100 * time.Millisecond
	maxTailLines  = 150
	productName   = "fleetwatch"
)

// chunk is one read result shipped from the background stdout pump to
// ReadOutput, which never blocks directly on the pipe.
type chunk struct {
	data []byte
	err  error
}

// Controlled wraps one OS child process: its handle, piped stdin/stdout,
// rolling output tail, and (optionally) its specialization handler.
//
// The handler is read under mu and called with mu released, so a handler
// is always free to call back into Controlled (via the ProcessHandle it is
// given) without the engine locking itself out.
type Controlled struct {
	log *slog.Logger

	name            string
	exePath         string
	arguments       []string
	workingDir      string
	specialization  string
	crashPrevention atomic.Bool
	active          atomic.Bool

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	chunks   chan chunk
	waitDone chan struct{}
	waitErr  error

	mu      sync.Mutex
	handler specialization.Handler
	tail    []string
}

// Spawn starts the child described by desc, seeding a terminal-simulation
// environment and running the specialization's PreInit/Init hooks if one is
// attached.
func Spawn(desc models.ProgramDescriptor, handler specialization.Handler, log *slog.Logger) (*Controlled, error) {
	if err := os.MkdirAll(desc.WorkingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}

	env := map[string]string{
		"TERM":         "xterm-256color",
		"COLORTERM":    "truecolor",
		"COLUMNS":      "120",
		"LINES":        "30",
		"TERM_PROGRAM": productName,
		"FORCE_COLOR":  "1",
	}
	if handler != nil {
		handler.PreInit(env, desc)
	}

	if len(desc.SpecializationOptions) > 0 {
		var opts map[string]any
		if err := json.Unmarshal(desc.SpecializationOptions, &opts); err == nil {
			log.Debug("spawning with specialization options", "server", desc.Name, "options", crypto.RedactMap(opts))
		}
	}

	args := make([]string, len(desc.Arguments))
	replacer := strings.NewReplacer(`\\`, `\`, `"`, ``)
	for i, a := range desc.Arguments {
		args[i] = replacer.Replace(a)
	}

	cmd := exec.Command(desc.ExePath, args...)
	cmd.Dir = desc.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	c := &Controlled{
		log:            log,
		name:           desc.Name,
		exePath:        desc.ExePath,
		arguments:      desc.Arguments,
		workingDir:     desc.WorkingDir,
		specialization: desc.Specialization,
		cmd:            cmd,
		stdin:          stdin,
		chunks:         make(chan chunk, 16),
		waitDone:       make(chan struct{}),
		handler:        handler,
	}
	c.crashPrevention.Store(desc.CrashPrevention)
	c.active.Store(true)

	go c.pumpStdout(stdout)
	go c.awaitExit()

	if handler != nil {
		if err := handler.Init(c); err != nil {
			log.Warn("specialization init failed", "server", c.name, "error", err)
		}
	}

	return c, nil
}

// pumpStdout performs the actual blocking reads off the pipe and ships them
// to ReadOutput via a buffered channel, so ReadOutput's 10 ms budget never
// depends on platform deadline support for pipes.
func (c *Controlled) pumpStdout(r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.chunks <- chunk{data: data}
		}
		if err != nil {
			c.chunks <- chunk{err: err}
			return
		}
	}
}

// Name, ExePath, Arguments, WorkingDir, SpecializationName, and
// CrashPrevention satisfy specialization.ProcessHandle.
func (c *Controlled) Name() string               { return c.name }
func (c *Controlled) ExePath() string            { return c.exePath }
func (c *Controlled) Arguments() []string        { return c.arguments }
func (c *Controlled) WorkingDir() string         { return c.workingDir }
func (c *Controlled) SpecializationName() string { return c.specialization }
func (c *Controlled) CrashPrevention() bool      { return c.crashPrevention.Load() }
func (c *Controlled) Active() bool               { return c.active.Load() }

// Handler returns the attached specialization handler, or nil if Spawn
// was given none (output is then transcoded by C1 only).
func (c *Controlled) Handler() specialization.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// WriteStdin writes value followed by CRLF to the child's stdin. It is a
// best-effort operation: write errors are logged at warn level and the
// process is left running (spec.md section 7).
func (c *Controlled) WriteStdin(value string) {
	if _, err := c.stdin.Write([]byte(value + "\r\n")); err != nil {
		c.log.Warn("stdin write failed", "server", c.name, "error", err)
	}
}

// awaitExit calls cmd.Wait exactly once and records the result, so TryWait
// can poll it non-blockingly as many times as the supervisor tick needs.
func (c *Controlled) awaitExit() {
	c.waitErr = c.cmd.Wait()
	c.active.Store(false)
	close(c.waitDone)
}

// TryWait performs a non-blocking check for child exit. ok is false if the
// process is still running.
func (c *Controlled) TryWait() (code int, ok bool) {
	select {
	case <-c.waitDone:
	default:
		return 0, false
	}

	if c.cmd.ProcessState != nil {
		return c.cmd.ProcessState.ExitCode(), true
	}
	if exitErr, isExit := c.waitErr.(*exec.ExitError); isExit {
		return exitErr.ExitCode(), true
	}
	return -1, true
}

// ReadOutput drains whatever stdout has become available within a 10 ms
// budget, parses its lines (including a trailing line that has no newline
// yet) through the attached handler (or the
// Output Transcoder when none is attached), appends the result to the
// rolling tail, and returns the concatenated HTML. It returns "" when
// nothing was read.
func (c *Controlled) ReadOutput() string {
	deadline := time.After(readTimeout)
	var pending []byte

	// Block for the first chunk (or timeout with nothing available), then
	// drain whatever else has already arrived without waiting further.
	select {
	case ch := <-c.chunks:
		if ch.err != nil {
			c.active.Store(false)
		} else {
			pending = append(pending, ch.data...)
		}
	case <-deadline:
		return ""
	}
drain:
	for {
		select {
		case ch := <-c.chunks:
			if ch.err != nil {
				c.active.Store(false)
				break drain
			}
			pending = append(pending, ch.data...)
		default:
			break drain
		}
	}

	if len(pending) == 0 {
		return ""
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	var rendered []string
	for _, line := range splitLines(pending) {
		var html string
		var emit bool
		if handler != nil {
			html, emit = handler.ParseOutput(line, c)
		} else {
			html, emit = ansihtml.Transcode([]byte(line)), true
		}
		if emit {
			rendered = append(rendered, html)
		}
	}
	if len(rendered) == 0 {
		return ""
	}

	out := strings.Join(rendered, "\n")
	c.appendTail(out)
	return out
}

// splitLines breaks a chunk of process output into lines, preserving
// interior empty lines (specialization.Handler.ParseOutput relies on these
// to emit "<br>") the way the Rust original's str::lines() does. Only the
// single trailing empty element produced by a chunk that ends in a newline
// is dropped, since it is not a line at all.
func splitLines(b []byte) []string {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	parts := strings.Split(s, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func (c *Controlled) appendTail(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tail = append(c.tail, strings.Split(text, "\n")...)
	if len(c.tail) > maxTailLines {
		c.tail = c.tail[len(c.tail)-maxTailLines:]
	}
}

// Tail returns the rolling output tail (at most 150 lines), joined with
// newlines.
func (c *Controlled) Tail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.tail, "\n")
}

// Stop disables crash prevention, signals the OS process to terminate,
// waits up to 100 ms, and returns the exit code if known by then.
func (c *Controlled) Stop() (code int, ok bool) {
	c.crashPrevention.Store(false)

	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}

	select {
	case <-c.waitDone:
		return c.TryWait()
	case <-time.After(stopWait):
		return 0, false
	}
}

// Descriptor rebuilds a ProgramDescriptor from the process's live
// attributes, for use when scheduling a restart.
func (c *Controlled) Descriptor() models.ProgramDescriptor {
	return models.ProgramDescriptor{
		Name:            c.name,
		ExePath:         c.exePath,
		Arguments:       c.arguments,
		WorkingDir:      c.workingDir,
		AutoStart:       false,
		CrashPrevention: c.crashPrevention.Load(),
		Specialization:  c.specialization,
	}
}
