package llm

import (
	"context"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GenAIClient calls Gemini through the official Go SDK. A new SDK client
// is built per call because the API key can change between requests.
type GenAIClient struct {
	apiKey string
	model  string
	opts   []option.ClientOption
}

// NewGenAIClient creates an SDK-backed client. Extra options are appended
// after the API key option.
func NewGenAIClient(apiKey, model string, opts ...option.ClientOption) *GenAIClient {
	return &GenAIClient{apiKey: apiKey, model: model, opts: opts}
}

// Name returns the provider name.
func (c *GenAIClient) Name() string {
	return "genai"
}

// Complete replays the history into a chat session and sends the final message.
func (c *GenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	turns := collapseTurns(req.Messages)
	if len(turns) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Message: "no messages to send"}
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.apiKey
	}
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, c.opts...)...)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: "creating client", Err: err}
	}
	defer client.Close()

	model := client.GenerativeModel(modelName)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		model.GenerationConfig.MaxOutputTokens = &maxTokens
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		model.GenerationConfig.Temperature = &temp
	}

	cs := model.StartChat()
	last := turns[len(turns)-1]
	for _, m := range turns[:len(turns)-1] {
		cs.History = append(cs.History, &genai.Content{
			Role:  genaiRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: "send message", Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ProviderError{Provider: c.Name(), Message: "empty response"}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, &ProviderError{Provider: c.Name(), Message: "empty response"}
	}

	out := &CompletionResponse{
		Content:    content,
		StopReason: resp.Candidates[0].FinishReason.String(),
		Model:      modelName,
		Duration:   time.Since(start),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func genaiRole(role string) string {
	if role == RoleAssistant {
		return "model"
	}
	return "user"
}
