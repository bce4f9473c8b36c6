// Command engine starts the bot hosting control plane's HTTP server.
//
// # Environment Variables
//
//   - ENGINE_PORT: HTTP server port (default: 8080)
//   - ENGINE_GIN_MODE: gin mode, "debug" or "release" (default: release)
//   - WORKSPACE_ROOT: directory bot workspaces are materialized under
//   - BADGER_PATH: directory the embedded database persists to
//   - LOG_DIR: optional directory for structured log files
//   - RUNTIME_A_BIN: interpreter binary for runtime-a bots (default: python3)
//   - RUNTIME_B_BIN: interpreter binary for runtime-b bots (default: node)
//   - MEMORY_MAX: runtime RADAR memory ceiling in megabytes
//   - CPU_QUOTA: runtime RADAR CPU ceiling as a percentage
//   - MAX_BOTS_PER_USER: cap on bots owned per user (default: 0, unlimited)
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/chatforge/engine/services/bot/radar"
	"github.com/chatforge/engine/services/engine"
	"github.com/chatforge/engine/services/engine/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := engine.Config{
		Port:           getEnvInt("ENGINE_PORT", 8080),
		GinMode:        getEnvString("ENGINE_GIN_MODE", "release"),
		WorkspaceRoot:  getEnvString("WORKSPACE_ROOT", "/var/lib/chatforge/workspaces"),
		BadgerPath:     getEnvString("BADGER_PATH", "/var/lib/chatforge/db"),
		LogDir:         os.Getenv("LOG_DIR"),
		RuntimeABinary: os.Getenv("RUNTIME_A_BIN"),
		RuntimeBBinary: os.Getenv("RUNTIME_B_BIN"),
		MaxBotsPerUser: getEnvInt("MAX_BOTS_PER_USER", 0),
		Quota: radar.Quota{
			MemoryMaxMB:     getEnvFloat("MEMORY_MAX", radar.DefaultMemoryMaxMB),
			CPUQuotaPercent: getEnvFloat("CPU_QUOTA", radar.DefaultCPUQuotaPercent),
		},
		Authenticator: middleware.TokenIdentityAuthenticator{},
	}

	slog.Info("starting engine", "port", cfg.Port, "workspace_root", cfg.WorkspaceRoot, "max_bots_per_user", cfg.MaxBotsPerUser)

	svc, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("engine error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
