package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/logging"
)

// ProviderError is returned when a provider call fails: transport errors,
// timeouts, non-2xx statuses and empty or malformed responses.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code when the provider answered
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Registry manages provider clients and resolves model references to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered completion provider")
}

// Alias maps a model name to a provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no completion provider for model %q", model)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers the configured provider and makes it the
// fallback. Credentials are not needed here; they travel with each request.
func NewRegistryFromConfig(cfg config.CompletionConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "genai":
		reg.Register("genai", NewGenAIClient("", cfg.Model))
	case "mock":
		reg.Register("mock", NewEchoClient())
	default:
		provider = "gemini"
		client := NewGeminiAPIClient("", cfg.Model)
		if cfg.Endpoint != "" {
			client.SetEndpoint(cfg.Endpoint)
		}
		if timeout > 0 {
			client.SetTimeout(timeout)
		}
		reg.Register("gemini", client)
	}
	reg.SetFallback(provider)

	for _, alias := range []string{"gemini-pro", "gemini-1.5-flash-latest", "gemini-1.5-pro-latest", "gemini-2.0-flash"} {
		reg.Alias(alias, provider)
	}
	return reg
}
