package llm

import (
	"context"
)

// LLMClient is the reasoning backend: one prompt in, one completion out.
// Implementations return errors classified by fault kind.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
