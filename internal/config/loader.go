package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${ENV_VAR} references in credential fields.
func expandSensitiveFields(cfg *Config) {
	cfg.Server.Auth.Token = expandEnvVars(cfg.Server.Auth.Token)
	cfg.Server.Auth.JWTSecret = expandEnvVars(cfg.Server.Auth.JWTSecret)
	cfg.Storage.Redis.URL = expandEnvVars(cfg.Storage.Redis.URL)
	for k, v := range cfg.Settings {
		if s, ok := v.(string); ok {
			cfg.Settings[k] = expandEnvVars(s)
		}
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields left empty by a partial file.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = d.Server.Bind
	}
	if cfg.Server.Auth.Mode == "" {
		cfg.Server.Auth.Mode = d.Server.Auth.Mode
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = d.Storage.Driver
	}
	if cfg.Storage.Redis.KeyPrefix == "" {
		cfg.Storage.Redis.KeyPrefix = d.Storage.Redis.KeyPrefix
	}
	if cfg.Storage.Redis.TTLHours == 0 {
		cfg.Storage.Redis.TTLHours = d.Storage.Redis.TTLHours
	}
	if cfg.Completion.Provider == "" {
		cfg.Completion.Provider = d.Completion.Provider
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = d.Completion.Model
	}
	if cfg.Completion.TimeoutSeconds == 0 {
		cfg.Completion.TimeoutSeconds = d.Completion.TimeoutSeconds
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = d.Completion.MaxTokens
	}
	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = d.Session.HistoryLimit
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
}

// applyEnvOverrides reads SUPPORTCHAT_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUPPORTCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SUPPORTCHAT_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("SUPPORTCHAT_ADMIN_TOKEN"); v != "" {
		cfg.Server.Auth.Token = v
	}
	if v := os.Getenv("SUPPORTCHAT_JWT_SECRET"); v != "" {
		cfg.Server.Auth.JWTSecret = v
	}
	if v := os.Getenv("SUPPORTCHAT_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SUPPORTCHAT_REDIS_URL"); v != "" {
		cfg.Storage.Redis.URL = v
	}
	if v := os.Getenv("SUPPORTCHAT_COMPLETION_PROVIDER"); v != "" {
		cfg.Completion.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SUPPORTCHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
