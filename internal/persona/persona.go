// Package persona loads the data-driven persona definition: the prompt
// template, the fixed system prompt, fallback and refusal wording, the
// forbidden-substring list and the tribal detection patterns.
package persona

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Persona is the textual frame constraining tone and identity of answers.
// It is configuration, not code: everything here may be overridden by a
// YAML file without touching the generation path.
type Persona struct {
	// SystemPrompt is sent as the model's system instruction on every call.
	SystemPrompt string `yaml:"system_prompt"`

	// Template frames one request. It must contain the {query} placeholder
	// and may contain {context} and {history}.
	Template string `yaml:"template"`

	// FallbackMessages are returned verbatim when generation fails; the
	// end user must never see a technical error.
	FallbackMessages []string `yaml:"fallback_messages"`

	// RefusalMessage replaces any answer that leaks restricted information.
	RefusalMessage string `yaml:"refusal_message"`

	// ForbiddenSubstrings mark an answer as leaking restricted information
	// (matched case-insensitively against generated output).
	ForbiddenSubstrings []string `yaml:"forbidden_substrings"`

	// TribalPatterns are the phrases that identify a tribe/referral request
	// (matched case-insensitively as substrings of the query).
	TribalPatterns []string `yaml:"tribal_patterns"`
}

// Default returns the embedded persona definition.
func Default() (*Persona, error) {
	return parse(defaultYAML)
}

// Load reads a persona from path, or the embedded default when path is empty.
func Load(path string) (*Persona, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persona: %w", err)
	}
	return &p, nil
}

// Validate checks the persona is usable for prompt assembly.
func (p *Persona) Validate() error {
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("system_prompt is required")
	}
	if !strings.Contains(p.Template, "{query}") {
		return fmt.Errorf("template must contain the {query} placeholder")
	}
	if len(p.FallbackMessages) == 0 {
		return fmt.Errorf("at least one fallback message is required")
	}
	if strings.TrimSpace(p.RefusalMessage) == "" {
		return fmt.Errorf("refusal_message is required")
	}
	return nil
}

// Fallback returns a deterministic fallback message for the given session,
// so repeated failures in one conversation do not echo the same apology
// while different sessions still get stable wording.
func (p *Persona) Fallback(sessionID string) string {
	if len(p.FallbackMessages) == 1 {
		return p.FallbackMessages[0]
	}
	var sum int
	for _, r := range sessionID {
		sum += int(r)
	}
	return p.FallbackMessages[sum%len(p.FallbackMessages)]
}

// Sanitize replaces an answer that contains any forbidden substring with
// the fixed refusal message.
func (p *Persona) Sanitize(answer string) (string, bool) {
	lower := strings.ToLower(answer)
	for _, s := range p.ForbiddenSubstrings {
		if s == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(s)) {
			return p.RefusalMessage, true
		}
	}
	return answer, false
}
