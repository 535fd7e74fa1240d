// Package tutor implements the tutoring session state machine: the session
// manager that owns the remote chat handle, the dispatcher that serializes
// requests against it, and the classifier that turns failures into
// user-facing messages.
package tutor

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/ashureev/visual-study-buddy/internal/domain"
)

//nolint:revive,staticcheck // Messages are shown to the user verbatim.
var (
	// ErrRequestPending is returned when a dispatch is attempted while another
	// request has not settled yet.
	ErrRequestPending = errors.New("request already in progress")

	// ErrUninitializedSession is a local precondition failure: a follow-up was
	// sent before any image started a session.
	ErrUninitializedSession = errors.New("Chat session invalid. Please upload an image to start a session.")

	// ErrMissingCredential means neither the stored override nor the process
	// default provides an API key.
	ErrMissingCredential = errors.New("Missing API Key. Please enter your Gemini API Key in Settings.")
)

// Image is raw image bytes with their MIME type.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURI encodes the image as a base64 data URI.
func (i Image) DataURI() string {
	mimeType := i.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Message is one outbound chat message.
type Message struct {
	Text  string
	Image *Image
}

// Source is a web citation attached to a grounded reply.
type Source struct {
	Title string
	URI   string
}

// Reply is the model's answer to one message.
type Reply struct {
	Text    string
	Sources []Source
}

// Profile parameterizes a new chat for one subject.
type Profile struct {
	Subject     domain.Subject
	Instruction string
	Grounding   bool
}

// Chat is a live conversational context held by the remote model.
type Chat interface {
	Send(ctx context.Context, msg Message) (Reply, error)
}

// Backend builds chats and generates images against the remote model.
type Backend interface {
	// NewChat constructs a fresh conversational context. It must not reuse
	// any previous context.
	NewChat(ctx context.Context, apiKey string, profile Profile) (Chat, error)

	// GenerateImage renders prompt into a PNG image. It is stateless.
	GenerateImage(ctx context.Context, apiKey, prompt string) (Image, error)
}

// CredentialSource resolves the API key used for remote calls.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

// Metrics records dispatch outcomes.
type Metrics interface {
	RecordDispatch(ctx context.Context, op, outcome string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) RecordDispatch(context.Context, string, string, float64) {}
