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

// Package metrics exposes the supervisor's internal state as Prometheus
// collectors: how many processes are alive, how often they crash and
// restart, how many dashboard websockets are attached, how often the
// broadcast hub has to drop a frame because a subscriber fell behind, and
// how long each slave poll round-trip takes.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	processesActive      prometheus.Gauge
	serverRestartsTotal  *prometheus.CounterVec
	websocketConnections prometheus.Gauge
	broadcastDropsTotal  prometheus.Counter
	slavePollDuration    *prometheus.HistogramVec
	slavePollFailures    *prometheus.CounterVec
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors.
// Primarily used by tests to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetActiveProcesses records how many child processes the supervisor
// currently considers alive, after each tick's exit sweep.
func SetActiveProcesses(n int) {
	mu.RLock()
	defer mu.RUnlock()
	if processesActive != nil {
		processesActive.Set(float64(n))
	}
}

// IncServerRestart records a crash-triggered restart for the named server.
func IncServerRestart(serverName string) {
	label := sanitizeLabel(serverName, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if serverRestartsTotal != nil {
		serverRestartsTotal.WithLabelValues(label).Inc()
	}
}

// IncWebsocketConnections records a dashboard or slave websocket attaching.
func IncWebsocketConnections() {
	mu.RLock()
	defer mu.RUnlock()
	if websocketConnections != nil {
		websocketConnections.Inc()
	}
}

// DecWebsocketConnections records a websocket detaching.
func DecWebsocketConnections() {
	mu.RLock()
	defer mu.RUnlock()
	if websocketConnections != nil {
		websocketConnections.Dec()
	}
}

// IncBroadcastDrop records the broadcast hub evicting a buffered frame
// because a subscriber's channel was full (spec.md section 5's bounded,
// lossy fan-out).
func IncBroadcastDrop() {
	mu.RLock()
	defer mu.RUnlock()
	if broadcastDropsTotal != nil {
		broadcastDropsTotal.Inc()
	}
}

// ObserveSlavePollLatency records how long a requestInfo round-trip to a
// slave took. Callers should also report timeouts/failures via
// IncSlavePollFailure so a stalled slave is visible even with no
// successful samples.
func ObserveSlavePollLatency(slaveAddress string, d time.Duration) {
	label := sanitizeLabel(slaveAddress, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if slavePollDuration != nil {
		slavePollDuration.WithLabelValues(label).Observe(durationSeconds(d))
	}
}

// IncSlavePollFailure records a poll round-trip that timed out or failed.
func IncSlavePollFailure(slaveAddress string) {
	label := sanitizeLabel(slaveAddress, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if slavePollFailures != nil {
		slavePollFailures.WithLabelValues(label).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Subsystem: "supervisor",
		Name:      "processes_active",
		Help:      "Number of child processes currently alive.",
	})

	restarts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Subsystem: "supervisor",
		Name:      "server_restarts_total",
		Help:      "Total crash-triggered restarts by server name.",
	}, []string{"server"})

	wsConns := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Subsystem: "wsproto",
		Name:      "websocket_connections",
		Help:      "Number of currently attached dashboard and slave websocket connections.",
	})

	drops := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Subsystem: "wsproto",
		Name:      "broadcast_drops_total",
		Help:      "Total frames evicted from the broadcast hub because a subscriber fell behind.",
	})

	pollLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetwatch",
		Subsystem: "slavepoll",
		Name:      "poll_duration_seconds",
		Help:      "Duration of requestInfo round-trips to each slave.",
		Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25},
	}, []string{"slave"})

	pollFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Subsystem: "slavepoll",
		Name:      "poll_failures_total",
		Help:      "Total requestInfo polls that timed out or failed by slave.",
	}, []string{"slave"})

	registry.MustRegister(active, restarts, wsConns, drops, pollLatency, pollFailures)

	reg = registry
	processesActive = active
	serverRestartsTotal = restarts
	websocketConnections = wsConns
	broadcastDropsTotal = drops
	slavePollDuration = pollLatency
	slavePollFailures = pollFailures
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
