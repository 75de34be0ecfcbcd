package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oqilov/monomane/internal/monomane/history"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// DefaultBaseURL is the public endpoint for DefaultModel.
var DefaultBaseURL = ModelURL(DefaultModel)

// ModelURL returns the public endpoint for a model name (without the
// :generateContent suffix).
func ModelURL(model string) string {
	return "https://generativelanguage.googleapis.com/v1beta/models/" + model
}

const defaultTimeout = 120 * time.Second

// GeminiConfig configures the Gemini REST backend.
type GeminiConfig struct {
	// APIKey authenticates against the API; passed as a query parameter.
	APIKey string

	// BaseURL is the model endpoint (without the :generateContent suffix).
	// Defaults to the public gemini-2.0-flash endpoint when empty.
	BaseURL string

	// Timeout is the HTTP request timeout. Defaults to 120 s.
	Timeout time.Duration
}

// BlockedError is returned when the backend answered but produced no
// candidates, typically because the prompt was rejected.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("gemini: no candidates returned (block reason: %s)", e.Reason)
}

// TransportError is returned when the HTTP request itself failed (connection
// refused, DNS failure, timeout) as opposed to the API rejecting the prompt.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "gemini: request failed: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Backend produces a completion for an ordered conversation payload.
type Backend interface {
	Complete(ctx context.Context, contents []history.Turn) (string, error)
}

// geminiBackend implements Backend against the Gemini generateContent REST
// API. Safe for concurrent use.
type geminiBackend struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGemini returns a Backend for the Gemini REST API.
func NewGemini(cfg GeminiConfig) Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &geminiBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal Gemini wire types ---

type geminiRequest struct {
	Contents         []history.Turn  `json:"contents"`
	GenerationConfig genConfig       `json:"generationConfig"`
	SafetySettings   []safetySetting `json:"safetySettings"`
	Tools            []geminiTool    `json:"tools"`
}

type genConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiTool struct {
	GoogleSearch struct{} `json:"googleSearch"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// harmCategories are all lifted to BLOCK_NONE: the account owner, not the
// backend, decides what the persona may say.
var harmCategories = []string{
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_HARASSMENT",
}

// Complete sends the conversation payload and returns the top candidate's
// text.
func (g *geminiBackend) Complete(ctx context.Context, contents []history.Turn) (string, error) {
	settings := make([]safetySetting, len(harmCategories))
	for i, category := range harmCategories {
		settings[i] = safetySetting{Category: category, Threshold: "BLOCK_NONE"}
	}

	body := geminiRequest{
		Contents: contents,
		GenerationConfig: genConfig{
			Temperature:     1,
			MaxOutputTokens: 4096,
			TopP:            0.95,
		},
		SafetySettings: settings,
		Tools:          []geminiTool{{}},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := g.cfg.BaseURL + ":generateContent?key=" + g.cfg.APIKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("gemini: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini: API returned HTTP %d: %.200s", resp.StatusCode, respBody)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("gemini: decode API response: %w", err)
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		reason := parsed.PromptFeedback.BlockReason
		if reason == "" {
			reason = "unknown"
		}
		return "", &BlockedError{Reason: reason}
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
