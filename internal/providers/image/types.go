package image

import (
	"context"

	"carstudio/internal/domain"
)

// GenerateRequest describes one initial generation for a single source photo.
// Prompt is the fully built instruction text.
type GenerateRequest struct {
	Mode       domain.ProcessingMode
	Source     domain.Payload
	Background *domain.Payload
	Prompt     string
	RequestID  string
}

// RefineRequest re-submits a previous result with a correction.
type RefineRequest struct {
	Prior       domain.Payload
	Instruction string
	RequestID   string
}

// Generator is the contract implemented by all image providers.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*domain.Payload, error)
	Refine(ctx context.Context, req RefineRequest) (*domain.Payload, error)
}

// Inputs returns the images sent to the backend for req, in order. It fails
// with a MissingInput error when mode needs a background that is absent.
func (req GenerateRequest) Inputs() ([]domain.Payload, error) {
	if req.Source.IsZero() {
		return nil, domain.NewMissingInput("source image is empty")
	}
	if !req.Mode.RequiresBackground() {
		return []domain.Payload{req.Source}, nil
	}
	if req.Background.IsZero() {
		return nil, domain.NewMissingInput("mode " + string(req.Mode) + " requires a background image")
	}
	return []domain.Payload{req.Source, *req.Background}, nil
}
