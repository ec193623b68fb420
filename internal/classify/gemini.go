package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini classifies through the Gemini API with a JSON response schema.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// GeminiConfig configures a Gemini classifier.
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int

	// BaseURL and HTTPClient override the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// NewGemini creates a Gemini classifier.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Gemini{client: client, model: cfg.Model, maxTokens: int32(cfg.MaxTokens)}, nil
}

// Name implements Classifier.
func (g *Gemini) Name() string {
	return "gemini:" + g.model
}

// Classify implements Classifier.
func (g *Gemini) Classify(ctx context.Context, req Request) (*Result, error) {
	text, err := g.generate(ctx, Prompt{System: SystemPrompt(req), User: UserPrompt(req)}, resultSchema(req))
	if err != nil {
		return nil, err
	}
	return ParseResult(text)
}

// Complete implements Completer. The answer is constrained to JSON but
// not to a schema.
func (g *Gemini) Complete(ctx context.Context, p Prompt) (string, error) {
	return g.generate(ctx, p, nil)
}

func (g *Gemini) generate(ctx context.Context, p Prompt, schema *genai.Schema) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   g.maxTokens,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p.User), config)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", statusError(err))
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty Gemini response", ErrInvalidResponse)
	}
	return text, nil
}

// resultSchema constrains the answer shape. Category names are enumerated
// so the model is steered towards configured values; pairs are still
// validated by the caller.
func resultSchema(req Request) *genai.Schema {
	category := &genai.Schema{Type: genai.TypeString}
	subcategory := &genai.Schema{Type: genai.TypeString}

	if req.Taxonomy != nil {
		seen := map[string]bool{}
		for _, p := range req.Taxonomy.Pairs() {
			if !seen["c:"+p.Category] {
				seen["c:"+p.Category] = true
				category.Enum = append(category.Enum, p.Category)
			}
			if !seen["s:"+p.Subcategory] {
				seen["s:"+p.Subcategory] = true
				subcategory.Enum = append(subcategory.Enum, p.Subcategory)
			}
		}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"category":    category,
			"subcategory": subcategory,
			"confidence":  {Type: genai.TypeNumber},
			"reasoning":   {Type: genai.TypeString},
		},
		Required:         []string{"category", "subcategory", "confidence", "reasoning"},
		PropertyOrdering: []string{"category", "subcategory", "confidence", "reasoning"},
	}
}

// statusError maps GenAI API errors onto StatusError so retries can
// inspect the code.
func statusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &StatusError{Provider: "gemini", StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return err
}
