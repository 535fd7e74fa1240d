package conversation

import "strings"

// SplitMarker separates the conceptual explanation from code in model output.
// The token is part of the instruction contract with the model and must not
// change.
const SplitMarker = "|||SECTION_SPLIT|||"

// Split returns the text before and after the first SplitMarker. Without a
// marker the whole content is the concept and code is empty.
func Split(content string) (concept, code string) {
	before, after, found := strings.Cut(content, SplitMarker)
	if !found {
		return content, ""
	}
	return before, after
}

// View is the tabbed rendering of one turn.
type View struct {
	Concept string `json:"concept"`
	Code    string `json:"code,omitempty"`
	HasCode bool   `json:"has_code"`
}

// ViewOf splits content into its concept and code tabs.
func ViewOf(content string) View {
	concept, code := Split(content)
	return View{
		Concept: concept,
		Code:    code,
		HasCode: strings.Contains(content, SplitMarker),
	}
}
