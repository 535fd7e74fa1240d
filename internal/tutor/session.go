package tutor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/visual-study-buddy/internal/domain"
)

// SessionManager owns the single remote chat handle. A handle is replaced,
// never mutated, when a new session starts.
type SessionManager struct {
	backend      Backend
	creds        CredentialSource
	instructions *Instructions

	mu      sync.RWMutex
	subject domain.Subject
	chat    Chat
}

// NewSessionManager creates a session manager with no active session.
func NewSessionManager(backend Backend, creds CredentialSource, instructions *Instructions) *SessionManager {
	return &SessionManager{
		backend:      backend,
		creds:        creds,
		instructions: instructions,
	}
}

// Start constructs a new chat for subject and replaces any prior handle.
// The prior handle is dropped even when construction fails.
func (m *SessionManager) Start(ctx context.Context, subject domain.Subject) error {
	m.Reset()

	apiKey, err := m.creds.APIKey(ctx)
	if err != nil {
		return &SessionInitError{Subject: subject, Err: err}
	}

	chat, err := m.backend.NewChat(ctx, apiKey, m.instructions.Profile(subject))
	if err != nil {
		slog.Error("Session initialization failed", "subject", subject, "error", err)
		return &SessionInitError{Subject: subject, Err: err}
	}

	m.mu.Lock()
	m.subject = subject
	m.chat = chat
	m.mu.Unlock()

	slog.Info("Session started", "subject", subject, "grounding", subject.UsesGrounding())
	return nil
}

// Reset drops the handle and subject. It is safe to call repeatedly.
func (m *SessionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chat = nil
	m.subject = ""
}

// Active returns the live chat and the subject it was created for.
func (m *SessionManager) Active() (Chat, domain.Subject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chat, m.subject, m.chat != nil
}
