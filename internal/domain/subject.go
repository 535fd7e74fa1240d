// Package domain contains core domain types for the study buddy server.
package domain

import (
	"fmt"
	"strings"
)

// Subject is the academic domain a session is tutored in.
type Subject string

const (
	SubjectCalculus      Subject = "Calculus"
	SubjectLinearAlgebra Subject = "Linear Algebra"
	SubjectProbStat      Subject = "Probability & Statistics"
	SubjectGeometry      Subject = "Geometry"
	SubjectDLD           Subject = "Digital Logic Design"
	SubjectAIAlgorithms  Subject = "AI & Algorithms"
	SubjectDataScience   Subject = "Data Science"
	SubjectScience       Subject = "General Science"
)

// Subjects lists every selectable subject in display order.
var Subjects = []Subject{
	SubjectCalculus,
	SubjectLinearAlgebra,
	SubjectProbStat,
	SubjectGeometry,
	SubjectDLD,
	SubjectAIAlgorithms,
	SubjectDataScience,
	SubjectScience,
}

// DefaultSubject is selected until the user picks another one.
const DefaultSubject = SubjectCalculus

// ParseSubject matches a display name case-insensitively.
func ParseSubject(s string) (Subject, error) {
	s = strings.TrimSpace(s)
	for _, subj := range Subjects {
		if strings.EqualFold(string(subj), s) {
			return subj, nil
		}
	}
	return "", fmt.Errorf("unknown subject %q", s)
}

// Valid reports whether s is one of the enumerated subjects.
func (s Subject) Valid() bool {
	for _, subj := range Subjects {
		if subj == s {
			return true
		}
	}
	return false
}

// UsesGrounding reports whether web-search grounding is attached to sessions
// for this subject.
func (s Subject) UsesGrounding() bool {
	return s == SubjectDataScience
}
