package tutor

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ashureev/visual-study-buddy/internal/conversation"
	"github.com/ashureev/visual-study-buddy/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed instructions.yaml
var instructionsYAML []byte

// Instructions holds the prompt text sent to the model.
type Instructions struct {
	Preamble           string            `yaml:"preamble"`
	Formatting         string            `yaml:"formatting"`
	Guidance           map[string]string `yaml:"guidance"`
	Subjects           map[string]string `yaml:"subjects"`
	AnalysisPrompt     string            `yaml:"analysis_prompt"`
	IllustrationPrompt string            `yaml:"illustration_prompt"`
}

// LoadInstructions parses the embedded instruction profiles.
func LoadInstructions() (*Instructions, error) {
	return ParseInstructions(instructionsYAML)
}

// ParseInstructions parses and validates instruction profiles from YAML.
func ParseInstructions(data []byte) (*Instructions, error) {
	var in Instructions
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse instructions: %w", err)
	}
	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("invalid instructions: %w", err)
	}
	return &in, nil
}

func (in *Instructions) validate() error {
	if !strings.Contains(in.Formatting, conversation.SplitMarker) {
		return fmt.Errorf("formatting must contain the split marker %q", conversation.SplitMarker)
	}
	for _, subj := range domain.Subjects {
		key, ok := in.Subjects[string(subj)]
		if !ok {
			return fmt.Errorf("no profile for subject %q", subj)
		}
		if _, ok := in.Guidance[key]; !ok {
			return fmt.Errorf("subject %q references unknown guidance %q", subj, key)
		}
	}
	if in.AnalysisPrompt == "" {
		return fmt.Errorf("analysis_prompt cannot be empty")
	}
	if in.IllustrationPrompt == "" {
		return fmt.Errorf("illustration_prompt cannot be empty")
	}
	return nil
}

// Profile builds the chat profile for a subject.
func (in *Instructions) Profile(subject domain.Subject) Profile {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(in.Preamble, "{subject}", string(subject)))
	b.WriteString("\n")
	b.WriteString(in.Guidance[in.Subjects[string(subject)]])
	b.WriteString("\n")
	b.WriteString(in.Formatting)

	return Profile{
		Subject:     subject,
		Instruction: b.String(),
		Grounding:   subject.UsesGrounding(),
	}
}

// Analysis returns the user prompt that accompanies an uploaded image.
func (in *Instructions) Analysis(subject domain.Subject) string {
	return strings.ReplaceAll(in.AnalysisPrompt, "{subject}", string(subject))
}

// Illustration wraps a diagram request in the illustrator instruction.
func (in *Instructions) Illustration(prompt string) string {
	return strings.TrimSpace(strings.ReplaceAll(in.IllustrationPrompt, "{prompt}", prompt))
}
