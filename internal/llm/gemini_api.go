package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAPIClient is a direct HTTP client for the Google Gemini API.
type GeminiAPIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewGeminiAPIClient creates a new Gemini API client. apiKey may be empty
// when every request carries its own key.
func NewGeminiAPIClient(apiKey, model string) *GeminiAPIClient {
	return &GeminiAPIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultGeminiEndpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

// SetEndpoint overrides the API base URL (e.g. a proxy or a test server).
func (g *GeminiAPIClient) SetEndpoint(base string) {
	g.endpoint = strings.TrimSuffix(base, "/")
}

// SetTimeout bounds each HTTP round trip.
func (g *GeminiAPIClient) SetTimeout(d time.Duration) {
	g.client.Timeout = d
}

// Name returns the provider name.
func (g *GeminiAPIClient) Name() string {
	return "gemini"
}

// Complete sends a generateContent request.
func (g *GeminiAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = g.apiKey
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	payload, err := json.Marshal(g.buildRequestBody(req))
	if err != nil {
		return nil, g.fail("failed to marshal request", 0, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.endpoint, url.PathEscape(model), url.QueryEscape(apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, g.fail("failed to create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		// Strip the URL so the key never reaches logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, g.fail("request failed", 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.fail("failed to read response", 0, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, g.fail(apiErrorMessage(respBody), resp.StatusCode, nil)
	}

	var result geminiAPIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, g.fail("malformed response", 0, err)
	}

	out := g.responseToCompletion(&result, model, time.Since(start))
	if strings.TrimSpace(out.Content) == "" {
		reason := out.StopReason
		if result.PromptFeedback.BlockReason != "" {
			reason = result.PromptFeedback.BlockReason
		}
		return nil, g.fail("empty response "+strings.ToLower(reason), 0, nil)
	}
	return out, nil
}

func (g *GeminiAPIClient) fail(msg string, code int, err error) *ProviderError {
	return &ProviderError{Provider: g.Name(), Message: strings.TrimSpace(msg), Code: code, Err: err}
}

// buildRequestBody maps the conversation onto Gemini "contents". Gemini
// calls the assistant role "model".
func (g *GeminiAPIClient) buildRequestBody(req CompletionRequest) map[string]interface{} {
	turns := collapseTurns(req.Messages)
	contents := make([]map[string]interface{}, 0, len(turns))
	for _, msg := range turns {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": []map[string]string{{"text": msg.Content}},
		})
	}

	genConfig := map[string]interface{}{}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}

	body := map[string]interface{}{
		"contents": contents,
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}
	if req.System != "" {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]string{{"text": req.System}},
		}
	}
	return body
}

func (g *GeminiAPIClient) responseToCompletion(resp *geminiAPIResponse, model string, duration time.Duration) *CompletionResponse {
	var content strings.Builder
	stopReason := ""

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		for _, part := range candidate.Content.Parts {
			content.WriteString(part.Text)
		}
		stopReason = candidate.FinishReason
	}

	return &CompletionResponse{
		Content:    strings.TrimSpace(content.String()),
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
		Model:    model,
		Duration: duration,
	}
}

// apiErrorMessage extracts error.message from a Gemini error body.
func apiErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// API response structures

type geminiAPIResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
		Role  string       `json:"role"`
	} `json:"content"`
	FinishReason string `json:"finishReason"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}
