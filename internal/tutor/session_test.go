package tutor

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/visual-study-buddy/internal/domain"
)

func newTestSessions(t *testing.T, backend *fakeBackend, creds CredentialSource) *SessionManager {
	t.Helper()
	in, err := LoadInstructions()
	if err != nil {
		t.Fatal(err)
	}
	return NewSessionManager(backend, creds, in)
}

func TestSessionManager_StartAndReset(t *testing.T) {
	backend := &fakeBackend{}
	m := newTestSessions(t, backend, staticCreds{key: "secret"})

	if _, _, ok := m.Active(); ok {
		t.Fatal("expected no session before start")
	}
	if err := m.Start(context.Background(), domain.SubjectGeometry); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	chat, subject, ok := m.Active()
	if !ok || chat == nil || subject != domain.SubjectGeometry {
		t.Fatalf("unexpected active session: %v %s %v", chat, subject, ok)
	}
	if backend.apiKeys[0] != "secret" {
		t.Errorf("chat built with key %q", backend.apiKeys[0])
	}

	m.Reset()
	m.Reset()
	if _, _, ok := m.Active(); ok {
		t.Error("expected no session after reset")
	}
}

func TestSessionManager_StartReplacesHandle(t *testing.T) {
	backend := &fakeBackend{}
	m := newTestSessions(t, backend, staticCreds{key: "k"})

	if err := m.Start(context.Background(), domain.SubjectCalculus); err != nil {
		t.Fatal(err)
	}
	first, _, _ := m.Active()
	if err := m.Start(context.Background(), domain.SubjectCalculus); err != nil {
		t.Fatal(err)
	}
	second, _, _ := m.Active()
	if first == second {
		t.Error("expected a new handle for every start")
	}
}

func TestSessionManager_StartFailurePropagates(t *testing.T) {
	backend := &fakeBackend{}
	m := newTestSessions(t, backend, staticCreds{key: "k"})
	if err := m.Start(context.Background(), domain.SubjectCalculus); err != nil {
		t.Fatal(err)
	}

	backend.chatErr = errors.New("client construction failed")
	err := m.Start(context.Background(), domain.SubjectGeometry)

	var initErr *SessionInitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected SessionInitError, got %v", err)
	}
	if initErr.Subject != domain.SubjectGeometry {
		t.Errorf("unexpected subject %s", initErr.Subject)
	}
	if _, _, ok := m.Active(); ok {
		t.Error("failed start must not leave the old handle active")
	}
}

func TestSessionManager_MissingCredential(t *testing.T) {
	m := newTestSessions(t, &fakeBackend{}, staticCreds{err: ErrMissingCredential})
	err := m.Start(context.Background(), domain.SubjectCalculus)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}
