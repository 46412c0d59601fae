// Package chat implements the session-scoped conversational retrieval loop:
// load history, retrieve context, assemble a persona-constrained prompt,
// generate, commit the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tribu-digital/campaignbot/internal/domain"
	"github.com/tribu-digital/campaignbot/internal/genai"
	"github.com/tribu-digital/campaignbot/internal/persona"
	"github.com/tribu-digital/campaignbot/internal/prompt"
	"github.com/tribu-digital/campaignbot/internal/session"
)

// Retriever returns the most relevant document fragments for a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]domain.Fragment, error)
}

// Generator produces text for an assembled prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds the orchestration knobs.
type Config struct {
	TopK              int
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
	// GenerationRetries is how many minimized-prompt retries follow a failed
	// generation before falling back to the persona apology.
	GenerationRetries int
}

// Request is one incoming query bound to a session.
type Request struct {
	SessionID string
	Query     string
}

// Result is the outcome of one conversation request.
type Result struct {
	Answer    string
	SessionID string
	// Degraded is set when the answer was produced without retrieved
	// context, or when the persona fallback was used.
	Degraded bool
	// Retried is set when generation needed at least one retry.
	Retried bool
	// Fallback is set when the answer is the fixed persona fallback.
	Fallback bool
}

// Orchestrator runs the per-request conversation state machine. It holds
// only transient references to session data; the Store owns it.
type Orchestrator struct {
	store      session.Store
	retriever  Retriever
	generator  Generator
	assembler  *prompt.Assembler
	persona    *persona.Persona
	cfg        Config
	transcript TranscriptLogger
	now        func() time.Time
}

// New creates an orchestrator. The transcript logger defaults to a no-op.
func New(store session.Store, retriever Retriever, generator Generator, assembler *prompt.Assembler, p *persona.Persona, cfg Config) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Orchestrator{
		store:      store,
		retriever:  retriever,
		generator:  generator,
		assembler:  assembler,
		persona:    p,
		cfg:        cfg,
		transcript: NoopTranscriptLogger{},
		now:        time.Now,
	}
}

// WithTranscript attaches a transcript logger.
func (o *Orchestrator) WithTranscript(l TranscriptLogger) *Orchestrator {
	if l != nil {
		o.transcript = l
	}
	return o
}

// Ask runs the full loop for one request: validate, retrieve, assemble,
// generate, commit. A typed error is returned only for invalid input or a
// misconfigured prompt budget; collaborator failures degrade instead.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if !domain.ValidSessionID(req.SessionID) {
		return nil, fmt.Errorf("%w: malformed session id", ErrInvalidInput)
	}

	sess, err := o.store.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	o.transcript.Log(TranscriptEvent{
		SessionID: req.SessionID,
		Direction: "user",
		EventType: "chat_user_message",
		Content:   query,
	})

	fragments, degraded := o.retrieve(ctx, query)

	assembled, err := o.assembler.Assemble(fragments, sess.Turns, query)
	if err != nil {
		// PromptTooLarge: a configuration error, fatal for this request.
		return nil, err
	}

	answer, retried, genErr := o.generate(ctx, req.SessionID, assembled, sess.Turns, query)
	if genErr != nil {
		// Both attempts failed: answer with the fixed persona fallback and
		// report soft success. The conversation layer never exposes failure,
		// and a failed exchange does not mutate history.
		fallback := o.persona.Fallback(req.SessionID)
		slog.Error("Generation failed, returning persona fallback",
			"session_id", req.SessionID, "timeout", genai.IsTimeout(genErr), "error", genErr)
		o.logAssistant(req.SessionID, fallback, true, retried)
		return &Result{
			Answer:    fallback,
			SessionID: req.SessionID,
			Degraded:  true,
			Retried:   retried,
			Fallback:  true,
		}, nil
	}

	answer, redacted := o.persona.Sanitize(answer)
	if redacted {
		slog.Warn("Answer redacted by forbidden-substring policy", "session_id", req.SessionID)
	}

	// Commit even if the caller has disconnected: generation succeeded, and
	// dropping the turn now would leave history inconsistent with the
	// answer already produced.
	commitCtx := context.WithoutCancel(ctx)
	turn := domain.Turn{Query: query, Answer: answer, Timestamp: o.now()}
	if err := o.store.Append(commitCtx, req.SessionID, turn); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// Internal inconsistency (e.g. concurrent eviction). A lost
			// history entry is preferable to a failed response.
			slog.Warn("Session vanished before commit, history entry lost",
				"session_id", req.SessionID)
		} else {
			slog.Error("Failed to commit turn", "session_id", req.SessionID, "error", err)
		}
	}

	o.logAssistant(req.SessionID, answer, degraded, retried)
	return &Result{
		Answer:    answer,
		SessionID: req.SessionID,
		Degraded:  degraded,
		Retried:   retried,
	}, nil
}

// AskOnce answers a single prompt without touching session history. Used by
// the tribal and analytics endpoints, whose prompts are built server-side.
func (o *Orchestrator) AskOnce(ctx context.Context, sessionID, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if !domain.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: malformed session id", ErrInvalidInput)
	}

	fragments, degraded := o.retrieve(ctx, query)

	assembled, err := o.assembler.Assemble(fragments, nil, query)
	if err != nil {
		return nil, err
	}

	answer, retried, genErr := o.generate(ctx, sessionID, assembled, nil, query)
	if genErr != nil {
		return &Result{
			Answer:    o.persona.Fallback(sessionID),
			SessionID: sessionID,
			Degraded:  true,
			Retried:   retried,
			Fallback:  true,
		}, nil
	}

	answer, _ = o.persona.Sanitize(answer)
	return &Result{Answer: answer, SessionID: sessionID, Degraded: degraded, Retried: retried}, nil
}

// retrieve calls the index with its own timeout. Failure is recoverable:
// the request proceeds with zero fragments, flagged as degraded.
func (o *Orchestrator) retrieve(ctx context.Context, query string) ([]domain.Fragment, bool) {
	rctx := ctx
	if o.cfg.RetrievalTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
		defer cancel()
	}

	fragments, err := o.retriever.Search(rctx, query, o.cfg.TopK)
	if err != nil {
		slog.Warn("Retrieval failed, answering without context",
			"timeout", genai.IsTimeout(err), "error", err)
		return nil, true
	}
	return fragments, false
}

// generate calls the model, retrying with a minimized prompt (most recent
// turn only, zero fragments) on failure.
func (o *Orchestrator) generate(ctx context.Context, sessionID, assembled string, history []domain.Turn, query string) (string, bool, error) {
	answer, err := o.completeOnce(ctx, assembled)
	if err == nil {
		return answer, false, nil
	}
	slog.Warn("Generation failed, retrying with minimized prompt",
		"session_id", sessionID, "timeout", genai.IsTimeout(err), "error", err)

	var lastTurn []domain.Turn
	if len(history) > 0 {
		lastTurn = history[len(history)-1:]
	}
	minimal, aerr := o.assembler.Assemble(nil, lastTurn, query)
	if aerr != nil {
		return "", false, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	for attempt := 0; attempt < o.cfg.GenerationRetries; attempt++ {
		answer, err = o.completeOnce(ctx, minimal)
		if err == nil {
			return answer, true, nil
		}
	}
	return "", o.cfg.GenerationRetries > 0, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
}

func (o *Orchestrator) completeOnce(ctx context.Context, assembled string) (string, error) {
	gctx := ctx
	if o.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, o.cfg.GenerationTimeout)
		defer cancel()
	}
	return o.generator.Complete(gctx, assembled)
}

func (o *Orchestrator) logAssistant(sessionID, content string, degraded, retried bool) {
	o.transcript.Log(TranscriptEvent{
		SessionID: sessionID,
		Direction: "assistant",
		EventType: "chat_assistant_message",
		Content:   content,
		Meta: map[string]any{
			"degraded": degraded,
			"retried":  retried,
		},
	})
}
