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

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sturdyfool10/fleetwatch/internal/assets"
	"github.com/sturdyfool10/fleetwatch/internal/audit"
	"github.com/sturdyfool10/fleetwatch/internal/config"
	"github.com/sturdyfool10/fleetwatch/internal/fleet"
	"github.com/sturdyfool10/fleetwatch/internal/httpmw"
	"github.com/sturdyfool10/fleetwatch/internal/logging"
	"github.com/sturdyfool10/fleetwatch/internal/metrics"
	"github.com/sturdyfool10/fleetwatch/internal/slavepoll"
	"github.com/sturdyfool10/fleetwatch/internal/specialization"
	"github.com/sturdyfool10/fleetwatch/internal/supervisor"
	"github.com/sturdyfool10/fleetwatch/internal/wsproto"
)

func main() {
	var (
		configPath = flag.String("config", "config.json", "Path to config.json")
		auditPath  = flag.String("audit-db", "audit.db", "Path to the audit event SQLite database")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logging.New(*logLevel)
	slog.SetDefault(logger)

	_, statErr := os.Stat(*configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if os.IsNotExist(statErr) {
		slog.Warn("config file not found, wrote defaults", "path", *configPath)
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	registry := specialization.NewRegistry()
	registry.RegisterBuiltins()

	state := fleet.NewState(cfg, *configPath, registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditLog, err := audit.Open(ctx, *auditPath)
	if err != nil {
		slog.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditLog.Close() }()
	state.SetAudit(auditLog)

	loop := supervisor.New(state, logger)

	for _, desc := range cfg.Servers {
		if !desc.AutoStart {
			continue
		}
		if _, err := loop.Spawn(desc); err != nil {
			logger.Error("auto_start spawn failed", "server", desc.Name, "error", err)
		}
	}

	go loop.Run(ctx)

	if !cfg.Slave {
		slavepoll.StartAll(ctx, state, logger)
	}

	engine := wsproto.New(state, loop, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", engine)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", http.FileServer(http.FS(assets.GetStaticFS())))

	rateLimiter := httpmw.NewRateLimiter(httpmw.DefaultRateLimitConfig())
	defer rateLimiter.Stop()

	handler := httpmw.SecurityHeaders(httpmw.DefaultSecurityHeadersConfig())(rateLimiter.Middleware(mux))

	addr := cfg.Interface + ":" + cfg.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("fleetwatch listening", "addr", addr, "slave", cfg.Slave)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	for _, c := range state.ClearServers() {
		c.Stop()
	}

	slog.Info("fleetwatch exited")
}
