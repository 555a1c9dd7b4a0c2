package config

import (
	"fmt"
	"slices"

	"github.com/soyeahso/supportchat/internal/logging"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

func oneOf(issues []ValidationIssue, path, got string, valid []string) []ValidationIssue {
	if got != "" && !slices.Contains(valid, got) {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must be one of %v, got %q", valid, got),
		})
	}
	return issues
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}
	issues = oneOf(issues, "server.bind", cfg.Server.Bind, []string{"loopback", "lan", "custom"})
	issues = oneOf(issues, "server.auth.mode", cfg.Server.Auth.Mode, []string{"token", "jwt"})
	if cfg.Server.Auth.Mode == "jwt" && cfg.Server.Auth.JWTSecret == "" {
		issues = append(issues, ValidationIssue{
			Path:    "server.auth.jwtSecret",
			Message: "required when auth mode is jwt",
		})
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertPath == "" || cfg.Server.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "server.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	issues = oneOf(issues, "storage.driver", cfg.Storage.Driver, []string{"sqlite", "memory"})
	issues = oneOf(issues, "storage.conversations", cfg.Storage.Conversations, []string{"redis"})
	if cfg.Storage.Conversations == "redis" && cfg.Storage.Redis.URL == "" {
		issues = append(issues, ValidationIssue{
			Path:    "storage.redis.url",
			Message: "required when conversations are stored in redis",
		})
	}

	issues = oneOf(issues, "completion.provider", cfg.Completion.Provider, []string{"gemini", "genai", "mock"})
	if cfg.Completion.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "completion.timeoutSeconds",
			Message: "must not be negative",
		})
	}

	if cfg.Session.HistoryLimit < 0 || cfg.Session.HistoryLimit > 200 {
		issues = append(issues, ValidationIssue{
			Path:    "session.historyLimit",
			Message: fmt.Sprintf("must be 0-200, got %d", cfg.Session.HistoryLimit),
		})
	}

	issues = oneOf(issues, "logging.level", cfg.Logging.Level, logging.ValidLevels)
	issues = oneOf(issues, "logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	return issues
}
