// Package prompt composes the final model prompt from the persona template,
// retrieved fragments, conversation history and the user query, under a
// fixed character budget.
package prompt

import (
	"errors"
	"sort"
	"strings"

	"github.com/tribu-digital/campaignbot/internal/domain"
)

// ErrPromptTooLarge is returned when even the bare template plus query does
// not fit the budget. That is a configuration error, not a runtime one.
var ErrPromptTooLarge = errors.New("prompt: template and query exceed budget")

const (
	contextPlaceholder = "{context}"
	historyPlaceholder = "{history}"
	queryPlaceholder   = "{query}"

	emptyContext = "(sin contexto oficial disponible)"
	emptyHistory = "(sin conversación previa)"
)

// Assembler builds prompts deterministically. It performs no I/O and does
// not mutate its inputs.
type Assembler struct {
	template        string
	maxChars        int
	maxHistoryTurns int
}

// NewAssembler creates an assembler for the given persona template.
func NewAssembler(template string, maxChars, maxHistoryTurns int) *Assembler {
	return &Assembler{template: template, maxChars: maxChars, maxHistoryTurns: maxHistoryTurns}
}

// Assemble renders the prompt. Fragments are included in descending score
// order (ties keep retrieval order); history is the most recent
// maxHistoryTurns turns, oldest first. When the rendered prompt exceeds the
// budget, oldest history turns are dropped first, then lowest-relevance
// fragments. ErrPromptTooLarge is returned only if the bare template plus
// query is already over budget.
func (a *Assembler) Assemble(fragments []domain.Fragment, history []domain.Turn, query string) (string, error) {
	if len(a.render(nil, nil, query)) > a.maxChars {
		return "", ErrPromptTooLarge
	}

	frags := make([]domain.Fragment, len(fragments))
	copy(frags, fragments)
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Score > frags[j].Score })

	// Zero means unbounded, matching the session store's retention knob.
	turns := history
	if a.maxHistoryTurns > 0 && len(turns) > a.maxHistoryTurns {
		turns = turns[len(turns)-a.maxHistoryTurns:]
	}

	for {
		rendered := a.render(frags, turns, query)
		if len(rendered) <= a.maxChars {
			return rendered, nil
		}
		switch {
		case len(turns) > 0:
			// History is the largest long-term source of growth; drop the
			// oldest turn first.
			turns = turns[1:]
		case len(frags) > 0:
			frags = frags[:len(frags)-1]
		default:
			// Unreachable: the bare prompt fit above.
			return rendered, nil
		}
	}
}

func (a *Assembler) render(fragments []domain.Fragment, history []domain.Turn, query string) string {
	var ctx strings.Builder
	for i, f := range fragments {
		if i > 0 {
			ctx.WriteString("\n\n")
		}
		ctx.WriteString(strings.TrimSpace(f.Text))
	}
	contextStr := ctx.String()
	if contextStr == "" {
		contextStr = emptyContext
	}

	var hist strings.Builder
	for i, t := range history {
		if i > 0 {
			hist.WriteString("\n")
		}
		hist.WriteString("Usuario: ")
		hist.WriteString(t.Query)
		hist.WriteString("\nAsistente: ")
		hist.WriteString(t.Answer)
	}
	historyStr := hist.String()
	if historyStr == "" {
		historyStr = emptyHistory
	}

	r := strings.NewReplacer(
		contextPlaceholder, contextStr,
		historyPlaceholder, historyStr,
		queryPlaceholder, query,
	)
	return r.Replace(a.template)
}
