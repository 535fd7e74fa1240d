package domain

import (
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ErrorPrefix marks a model turn that reports a failure.
const ErrorPrefix = "Error: "

// Turn is one message in the conversation. Turns are never mutated after
// they are appended to a store.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsError reports whether the turn is an error turn.
func (t Turn) IsError() bool {
	return t.Role == RoleModel && strings.HasPrefix(t.Content, ErrorPrefix)
}

// ErrorMessage returns the content without the error prefix.
func (t Turn) ErrorMessage() string {
	return strings.TrimPrefix(t.Content, ErrorPrefix)
}

// HasImage returns true if the turn carries an attached or generated image.
func (t Turn) HasImage() bool {
	return t.ImageURL != ""
}
