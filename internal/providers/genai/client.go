package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carstudio/internal/domain"
	"carstudio/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client wraps one generateContent call to a Gemini image model. Without an
// API key it renders deterministic placeholder images so the pipeline can run
// locally; it never falls back once a remote call has been attempted.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash-image"
)

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int      `json:"candidateCount,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with a generous timeout will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genai: invalid base url: %w", err)
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Synthetic reports whether the client renders placeholders instead of
// calling the API.
func (c *Client) Synthetic() bool {
	return c.apiKey == ""
}

// Generate sends one or more images plus an instruction and returns the first
// generated image.
func (c *Client) Generate(ctx context.Context, images []domain.Payload, instruction string) (*domain.Payload, error) {
	if len(images) == 0 {
		return nil, domain.NewMissingInput("at least one image is required")
	}
	for i, img := range images {
		if img.IsZero() {
			return nil, domain.NewMissingInput(fmt.Sprintf("image %d is empty", i+1))
		}
	}
	if c.Synthetic() {
		return c.syntheticImage(images[0], instruction), nil
	}

	parts := make([]geminiPart, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: img.MediaType(),
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	parts = append(parts, geminiPart{Text: instruction})

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:     1,
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}

	start := time.Now()
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model)), payload, &response); err != nil {
		c.logger.Warn().
			Err(err).
			Str("model", c.model).
			Dur("elapsed", time.Since(start)).
			Msg("genai: generate content failed")
		return nil, domain.NewTransportError(err)
	}

	result, err := extractImage(response)
	if err != nil {
		c.logger.Info().
			Str("model", c.model).
			Str("reason", err.Error()).
			Msg("genai: response carried no image")
		return nil, err
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("images_in", len(images)).
		Int("bytes_out", len(result.Data)).
		Dur("elapsed", time.Since(start)).
		Msg("genai: generated image")
	return result, nil
}

// Refine re-submits a previously generated image with a correction.
func (c *Client) Refine(ctx context.Context, prior domain.Payload, instruction string) (*domain.Payload, error) {
	if prior.IsZero() {
		return nil, domain.NewMissingInput("prior result is empty")
	}
	return c.Generate(ctx, []domain.Payload{prior}, instruction)
}

// extractImage picks the first inline image across all candidates, wherever it
// sits relative to text parts. Text without an image is a refusal.
func extractImage(resp geminiGenerateContentResponse) (*domain.Payload, error) {
	var texts []string
	parts := 0
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			parts++
			if part.InlineData != nil && part.InlineData.Data != "" && isImageMIME(part.InlineData.MimeType) {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, domain.NewTransportError(fmt.Errorf("decode inline data: %w", err))
				}
				return &domain.Payload{Data: data, MIMEType: firstNonEmpty(part.InlineData.MimeType, "image/png")}, nil
			}
			if text := strings.TrimSpace(part.Text); text != "" {
				texts = append(texts, text)
			}
		}
	}
	if len(texts) > 0 {
		return nil, domain.NewBackendRefused(strings.Join(texts, "\n"))
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		// block reason is kept for logs only; the job shows the generic message
		return nil, &domain.GenerationError{Kind: domain.ErrNoImageProduced, Detail: "blocked: " + resp.PromptFeedback.BlockReason}
	}
	return nil, domain.NewNoImageProduced()
}

func isImageMIME(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	return mime == "" || strings.HasPrefix(mime, "image/")
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return &StatusError{Code: resp.StatusCode, Message: apiErr.Error.Message}
		}
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response from the Gemini API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini status %d", e.Code)
	}
	return fmt.Sprintf("gemini status %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err carries a Gemini HTTP status equal to code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
