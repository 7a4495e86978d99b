package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// ErrNotSupported is returned by providers that do not implement an
// operation, e.g. image generation on a text-only backend.
var ErrNotSupported = errors.New("operation not supported by this provider")

// CompletionRequest is the uniform call contract over the text backends.
// Model selects the backend model per call; MaxTokens and Temperature are
// optional overrides.
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	MaxTokens   int
	Temperature *float32
}

// Completion carries the model output plus token accounting. Usage may be
// zero-valued when the backend omits it; accounting must tolerate that.
type Completion struct {
	Text  string
	Usage schema.TokenUsage
}

// Provider abstracts a generative backend: text completion plus image
// generation. Implementations wrap one model family each.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// QuotaError signals a rate/quota rejection from the image backend. Callers
// use it to back off, and in serialized generation to halt the remainder of
// the document.
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("image generation quota exceeded: %s", e.Message)
}

// ContentPolicyError signals a policy rejection of the prompt. Not
// retryable.
type ContentPolicyError struct {
	Message string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("image generation rejected by content policy: %s", e.Message)
}

// IsQuotaError reports whether err carries a quota rejection anywhere in its
// chain.
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}
