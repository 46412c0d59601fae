package chat

import (
	"errors"

	"github.com/tribu-digital/campaignbot/internal/prompt"
)

// Error taxonomy for the conversation loop. Collaborator failures are
// classified here; nothing below the orchestrator lets a raw error reach
// the transport layer.
var (
	// ErrInvalidInput marks a client error; never retried.
	ErrInvalidInput = errors.New("chat: invalid input")
	// ErrRetrievalFailed marks a retrieval collaborator failure; recovered
	// by answering without context.
	ErrRetrievalFailed = errors.New("chat: retrieval failed")
	// ErrGenerationFailed marks a generation failure that exhausted retries.
	ErrGenerationFailed = errors.New("chat: generation failed")
)

// Error kinds exposed at the system boundary.
const (
	KindInvalidInput     = "InvalidInput"
	KindRetrievalFailed  = "RetrievalFailed"
	KindPromptTooLarge   = "PromptTooLarge"
	KindGenerationFailed = "GenerationFailed"
	KindInternal         = "Internal"
)

// Kind classifies an orchestrator error for the response envelope.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, prompt.ErrPromptTooLarge):
		return KindPromptTooLarge
	case errors.Is(err, ErrGenerationFailed):
		return KindGenerationFailed
	case errors.Is(err, ErrRetrievalFailed):
		return KindRetrievalFailed
	default:
		return KindInternal
	}
}
