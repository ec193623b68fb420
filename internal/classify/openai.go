package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openAIURL          = "https://api.openai.com/v1/chat/completions"
)

// OpenAI classifies through the Chat Completions API in JSON mode.
type OpenAI struct {
	apiKey    string
	model     string
	maxTokens int
	url       string
	client    *http.Client
}

// OpenAIOption customizes an OpenAI classifier.
type OpenAIOption func(*OpenAI)

// WithOpenAIURL overrides the Chat Completions endpoint.
func WithOpenAIURL(url string) OpenAIOption {
	return func(o *OpenAI) { o.url = url }
}

// WithOpenAIHTTPClient sets the HTTP client used for API calls.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAI) { o.client = c }
}

// NewOpenAI creates an OpenAI classifier.
func NewOpenAI(apiKey, modelName string, maxTokens int, opts ...OpenAIOption) *OpenAI {
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	o := &OpenAI{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		url:       openAIURL,
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name implements Classifier.
func (o *OpenAI) Name() string {
	return "openai:" + o.model
}

// Classify implements Classifier.
func (o *OpenAI) Classify(ctx context.Context, req Request) (*Result, error) {
	text, err := o.Complete(ctx, Prompt{System: SystemPrompt(req), User: UserPrompt(req)})
	if err != nil {
		return nil, err
	}
	return ParseResult(text)
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	reqBody := chatRequest{
		Model:               o.model,
		MaxCompletionTokens: o.maxTokens,
		Temperature:         0,
		ResponseFormat:      &chatResponseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling OpenAI API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var apiErr chatErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return "", &StatusError{Provider: "openai", StatusCode: resp.StatusCode, Message: msg}
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty OpenAI response", ErrInvalidResponse)
	}
	return result.Choices[0].Message.Content, nil
}

// --- Chat Completions API types ---

type chatRequest struct {
	Model               string              `json:"model"`
	Messages            []chatMessage       `json:"messages"`
	MaxCompletionTokens int                 `json:"max_completion_tokens,omitempty"`
	Temperature         float64             `json:"temperature"`
	ResponseFormat      *chatResponseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
