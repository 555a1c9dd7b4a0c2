package config

// Config is the root configuration for the supportchat server.
type Config struct {
	Server     ServerConfig     `yaml:"server,omitempty"`
	Storage    StorageConfig    `yaml:"storage,omitempty"`
	Completion CompletionConfig `yaml:"completion,omitempty"`
	Session    SessionConfig    `yaml:"session,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`

	// Settings seeds the runtime settings store. A seed is written only
	// when the key has never been set, so admin edits survive restarts.
	Settings map[string]any `yaml:"settings,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`
	Auth           AuthConfig `yaml:"auth,omitempty"`
	TLS            TLSConfig  `yaml:"tls,omitempty"`
}

// AuthConfig configures how admin callers are recognised.
type AuthConfig struct {
	Mode      string `yaml:"mode,omitempty"` // "token" | "jwt"
	Token     string `yaml:"token,omitempty"`
	JWTSecret string `yaml:"jwtSecret,omitempty"`
}

// TLSConfig enables TLS on the listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // sqlite file; defaults under the data dir

	// Conversations optionally moves sessions and messages to Redis while
	// agents and settings stay in the primary driver.
	Conversations string      `yaml:"conversations,omitempty"` // "" | "redis"
	Redis         RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis conversation driver.
type RedisConfig struct {
	URL       string `yaml:"url,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
	TTLHours  int    `yaml:"ttlHours,omitempty"`
}

// CompletionConfig selects the generative-AI provider. Credentials live in
// the settings store so an administrator can rotate them at runtime.
type CompletionConfig struct {
	Provider       string   `yaml:"provider,omitempty"` // "gemini" | "genai" | "mock"
	Model          string   `yaml:"model,omitempty"`
	Endpoint       string   `yaml:"endpoint,omitempty"`
	TimeoutSeconds int      `yaml:"timeoutSeconds,omitempty"`
	MaxTokens      int      `yaml:"maxTokens,omitempty"`
	Temperature    *float64 `yaml:"temperature,omitempty"`
}

// SessionConfig defines conversation behaviour.
type SessionConfig struct {
	HistoryLimit int `yaml:"historyLimit,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
	File         string `yaml:"file,omitempty"`
	MaxSizeMB    int    `yaml:"maxSizeMb,omitempty"`
	MaxBackups   int    `yaml:"maxBackups,omitempty"`
	MaxAgeDays   int    `yaml:"maxAgeDays,omitempty"`
}
