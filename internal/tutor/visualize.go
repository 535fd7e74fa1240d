package tutor

import (
	"strings"

	"github.com/ashureev/visual-study-buddy/internal/conversation"
)

// VisualizePolicy derives an image prompt from a model explanation.
type VisualizePolicy struct {
	MaxRunes         int
	CollapseNewlines bool
	ConceptOnly      bool
	// Template receives the snippet in place of "{snippet}". Empty means the
	// snippet is used as is.
	Template string
}

var (
	// ExplanationPolicy visualizes the last explanation as a whole.
	ExplanationPolicy = VisualizePolicy{MaxRunes: 500}

	// FlowPolicy asks for an execution flow diagram of the concept part.
	FlowPolicy = VisualizePolicy{
		MaxRunes:         150,
		CollapseNewlines: true,
		ConceptOnly:      true,
		Template:         "Create a step-by-step execution flow diagram or flowchart for: {snippet}...",
	}
)

// Prompt applies the policy to content.
func (p VisualizePolicy) Prompt(content string) string {
	if p.ConceptOnly {
		content, _ = conversation.Split(content)
	}
	if p.MaxRunes > 0 {
		runes := []rune(content)
		if len(runes) > p.MaxRunes {
			content = string(runes[:p.MaxRunes])
		}
	}
	if p.CollapseNewlines {
		content = strings.ReplaceAll(content, "\r\n", " ")
		content = strings.ReplaceAll(content, "\n", " ")
	}
	if p.Template == "" {
		return content
	}
	return strings.ReplaceAll(p.Template, "{snippet}", content)
}

// PolicyFor returns the policy registered under name.
func PolicyFor(name string) (VisualizePolicy, bool) {
	switch name {
	case "", "explanation":
		return ExplanationPolicy, true
	case "flow":
		return FlowPolicy, true
	}
	return VisualizePolicy{}, false
}
