// Package completion turns a persona, the settings snapshot and bounded
// conversation history into a generated support reply.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/llm"
	"github.com/soyeahso/supportchat/internal/logging"
)

// DefaultTimeout bounds one provider call when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Config holds the static completion parameters from the config file.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
}

// Gateway is the request/response boundary to the completion provider.
// It persists nothing and never retries.
type Gateway struct {
	registry *llm.Registry
	cfg      Config
	log      *logging.Logger
}

// New creates a gateway resolving providers from reg.
func New(reg *llm.Registry, cfg Config, log *logging.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Gateway{registry: reg, cfg: cfg, log: log.Sub("completion")}
}

// Complete generates a reply. history is oldest-first; newMessage is
// appended unless it is already the last element.
//
// Returns *domain.ConfigurationError when AI replies are disabled or no
// key is set (the provider is not called) and *llm.ProviderError for any
// provider failure including the timeout.
func (g *Gateway) Complete(ctx context.Context, persona domain.Persona, s domain.Settings, history []domain.Message, newMessage domain.Message) (string, error) {
	if !s.AIReady() {
		reason := "no api key configured"
		if !s.Bool(domain.SettingAIEnabled, false) {
			reason = "ai support is disabled"
		}
		return "", &domain.ConfigurationError{Reason: reason}
	}
	apiKey := s.String(domain.SettingAIAPIKey, "")

	model := s.String(domain.SettingAIModel, g.cfg.Model)
	client, err := g.registry.Resolve(model)
	if err != nil {
		return "", &domain.ConfigurationError{Reason: err.Error()}
	}

	req := llm.CompletionRequest{
		Model:       model,
		System:      BuildSystemPrompt(persona, s),
		Messages:    Transcript(history, newMessage),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		APIKey:      apiKey,
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return "", g.providerError(ctx, client.Name(), err)
	}
	if resp == nil || resp.Content == "" {
		return "", &llm.ProviderError{Provider: client.Name(), Message: "empty response"}
	}

	g.log.Debug().
		Str("provider", client.Name()).
		Str("model", model).
		Str("agent", persona.Name).
		Int("turns", len(req.Messages)).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("completion generated")
	return resp.Content, nil
}

func (g *Gateway) providerError(ctx context.Context, provider string, err error) error {
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &llm.ProviderError{Provider: provider, Message: fmt.Sprintf("no reply within %s", g.cfg.Timeout), Err: ctxErr}
	}
	return &llm.ProviderError{Provider: provider, Err: err}
}

// Transcript maps stored messages to provider turns, appending newMessage
// when it is not already the last entry. Leading assistant turns are dropped.
func Transcript(history []domain.Message, newMessage domain.Message) []llm.Message {
	msgs := history
	if n := len(history); n == 0 || !sameMessage(history[n-1], newMessage) {
		msgs = append(append([]domain.Message(nil), history...), newMessage)
	}
	// A bounded window can open mid-exchange; providers expect a user turn first.
	for len(msgs) > 1 && msgs[0].Role == domain.RoleAssistant {
		msgs = msgs[1:]
	}

	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: renderContent(m)})
	}
	return out
}

func sameMessage(a, b domain.Message) bool {
	if a.Seq != 0 || b.Seq != 0 {
		return a.Seq == b.Seq
	}
	return a.Role == b.Role && a.Content == b.Content && a.Kind == b.Kind
}
