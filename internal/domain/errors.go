package domain

import (
	"errors"
	"strings"
)

var (
	ErrMissingInput      = errors.New("missing input")
	ErrBackendRefused    = errors.New("backend refused")
	ErrNoImageProduced   = errors.New("no image produced")
	ErrTransport         = errors.New("transport error")
	ErrInvalidOptions    = errors.New("invalid options")
	ErrInvalidTransition = errors.New("invalid job transition")
)

const (
	msgMissingInput    = "A background image is required for this mode."
	msgNoImage         = "The model did not return an image. Please try again with a new submission."
	msgTransportPrefix = "Generation request failed: "
)

// GenerationError is a typed generation failure. Kind is one of the sentinel
// errors above; Detail carries backend text when there is any; Err preserves
// the underlying cause.
type GenerationError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel kind so errors.Is(err, ErrTransport) works while the
// cause stays reachable through Unwrap.
func (e *GenerationError) Is(target error) bool {
	return e.Kind == target
}

func NewMissingInput(detail string) error {
	return &GenerationError{Kind: ErrMissingInput, Detail: detail}
}

func NewBackendRefused(text string) error {
	return &GenerationError{Kind: ErrBackendRefused, Detail: strings.TrimSpace(text)}
}

func NewNoImageProduced() error {
	return &GenerationError{Kind: ErrNoImageProduced}
}

func NewTransportError(cause error) error {
	return &GenerationError{Kind: ErrTransport, Err: cause}
}

// UserMessage converts a job failure into the human-readable message stored on
// the job. Backend refusals are shown verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		switch genErr.Kind {
		case ErrBackendRefused:
			if genErr.Detail != "" {
				return genErr.Detail
			}
			return msgNoImage
		case ErrNoImageProduced:
			return msgNoImage
		case ErrMissingInput:
			return msgMissingInput
		case ErrTransport:
			if genErr.Err != nil {
				return msgTransportPrefix + genErr.Err.Error()
			}
			return strings.TrimSuffix(msgTransportPrefix, ": ")
		}
	}
	return err.Error()
}
