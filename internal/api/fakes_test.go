//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/visual-study-buddy/internal/conversation"
	"github.com/ashureev/visual-study-buddy/internal/credential"
	"github.com/ashureev/visual-study-buddy/internal/sandbox"
	"github.com/ashureev/visual-study-buddy/internal/tutor"
)

type fakeChat struct {
	backend *fakeBackend
	gate    chan struct{}
}

func (c *fakeChat) Send(ctx context.Context, _ tutor.Message) (tutor.Reply, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return tutor.Reply{}, ctx.Err()
		}
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return c.backend.reply, c.backend.sendErr
}

type fakeBackend struct {
	mu      sync.Mutex
	reply   tutor.Reply
	sendErr error
	gate    chan struct{}
	prompts []string
	image   tutor.Image
}

func (b *fakeBackend) NewChat(_ context.Context, _ string, _ tutor.Profile) (tutor.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &fakeChat{backend: b, gate: b.gate}, nil
}

func (b *fakeBackend) GenerateImage(_ context.Context, _ string, prompt string) (tutor.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, prompt)
	return b.image, nil
}

func (b *fakeBackend) lastPrompt() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.prompts) == 0 {
		return ""
	}
	return b.prompts[len(b.prompts)-1]
}

type fakeCreds struct {
	mu       sync.Mutex
	stored   string
	fallback string
}

func (c *fakeCreds) APIKey(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.stored != "":
		return c.stored, nil
	case c.fallback != "":
		return c.fallback, nil
	}
	return "", tutor.ErrMissingCredential
}

func (c *fakeCreds) Source(context.Context) (credential.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.stored != "":
		return credential.SourceStored, nil
	case c.fallback != "":
		return credential.SourceEnvironment, nil
	}
	return credential.SourceNone, nil
}

func (c *fakeCreds) Set(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = key
	return nil
}

func (c *fakeCreds) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = ""
	return nil
}

type fakeRunner struct {
	ready bool
	res   sandbox.Result
}

func (f *fakeRunner) Ready() bool { return f.ready }

func (f *fakeRunner) Run(context.Context, string) sandbox.Result { return f.res }

type fakeSandboxMetrics struct {
	mu     sync.Mutex
	runs   int
	failed int
}

func (m *fakeSandboxMetrics) RecordSandboxRun(_ context.Context, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	if failed {
		m.failed++
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	router     chi.Router
	dispatcher *tutor.Dispatcher
	backend    *fakeBackend
	creds      *fakeCreds
	runner     *fakeRunner
	metrics    *fakeSandboxMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	in, err := tutor.LoadInstructions()
	if err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{
		reply: tutor.Reply{Text: "NAND truth table|||SECTION_SPLIT|||module nand_gate(input a, b, output y);"},
		image: tutor.Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
	}
	creds := &fakeCreds{fallback: "env-key"}
	sessions := tutor.NewSessionManager(backend, creds, in)
	d := tutor.NewDispatcher(sessions, backend, creds, in, conversation.NewStore())

	runner := &fakeRunner{ready: true, res: sandbox.Result{Lines: []string{"42"}}}
	metrics := &fakeSandboxMetrics{}

	r := chi.NewRouter()
	NewHealthHandler(fakePinger{}, runner).RegisterHealth(r)
	NewSettingsHandler(d, creds, runner).RegisterRoutes(r)
	NewTutorHandler(d).RegisterRoutes(r)
	NewSandboxHandler(runner, metrics).RegisterRoutes(r)

	return &testEnv{router: r, dispatcher: d, backend: backend, creds: creds, runner: runner, metrics: metrics}
}
