package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Default values.
const (
	DefaultPort           = 8787
	DefaultModel          = "gemini-1.5-flash-latest"
	DefaultTimeoutSeconds = 30
	DefaultHistoryLimit   = 20
	DefaultMaxTokens      = 512
	DefaultRedisTTLHours  = 24 * 30
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: DefaultPort,
			Bind: "loopback",
			Auth: AuthConfig{Mode: "token"},
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Redis: RedisConfig{
				KeyPrefix: "supportchat:",
				TTLHours:  DefaultRedisTTLHours,
			},
		},
		Completion: CompletionConfig{
			Provider:       "gemini",
			Model:          DefaultModel,
			TimeoutSeconds: DefaultTimeoutSeconds,
			MaxTokens:      DefaultMaxTokens,
		},
		Session: SessionConfig{
			HistoryLimit: DefaultHistoryLimit,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
