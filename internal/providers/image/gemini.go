package image

import (
	"context"

	"carstudio/internal/domain"
	"carstudio/internal/providers/genai"
)

// geminiClient is the subset of genai.Client used here.
type geminiClient interface {
	Generate(ctx context.Context, images []domain.Payload, instruction string) (*domain.Payload, error)
	Refine(ctx context.Context, prior domain.Payload, instruction string) (*domain.Payload, error)
}

type GeminiGenerator struct {
	client geminiClient
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

// Generate fails fast, before any network call, when an input image the mode
// needs is absent.
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*domain.Payload, error) {
	inputs, err := req.Inputs()
	if err != nil {
		return nil, err
	}
	return g.client.Generate(ctx, inputs, req.Prompt)
}

func (g *GeminiGenerator) Refine(ctx context.Context, req RefineRequest) (*domain.Payload, error) {
	if req.Prior.IsZero() {
		return nil, domain.NewMissingInput("no previous result to refine")
	}
	return g.client.Refine(ctx, req.Prior, req.Instruction)
}

var _ Generator = (*GeminiGenerator)(nil)
