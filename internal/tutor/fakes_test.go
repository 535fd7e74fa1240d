package tutor

import (
	"context"
	"sync"
	"testing"

	"github.com/ashureev/visual-study-buddy/internal/conversation"
)

type staticCreds struct {
	key string
	err error
}

func (c staticCreds) APIKey(context.Context) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.key, nil
}

type fakeChat struct {
	profile Profile

	mu       sync.Mutex
	messages []Message
	reply    Reply
	err      error
	onSend   func()
}

func (c *fakeChat) Send(_ context.Context, msg Message) (Reply, error) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	onSend := c.onSend
	c.mu.Unlock()
	if onSend != nil {
		onSend()
	}
	return c.reply, c.err
}

type fakeBackend struct {
	mu        sync.Mutex
	chats     []*fakeChat
	apiKeys   []string
	chatErr   error
	reply     Reply
	sendErr   error
	onSend    func()
	image     Image
	imageErr  error
	prompts   []string
	imageHook func()
}

func (b *fakeBackend) NewChat(_ context.Context, apiKey string, profile Profile) (Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apiKeys = append(b.apiKeys, apiKey)
	if b.chatErr != nil {
		return nil, b.chatErr
	}
	chat := &fakeChat{profile: profile, reply: b.reply, err: b.sendErr, onSend: b.onSend}
	b.chats = append(b.chats, chat)
	return chat, nil
}

func (b *fakeBackend) GenerateImage(_ context.Context, _ string, prompt string) (Image, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	hook := b.imageHook
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return b.image, b.imageErr
}

func (b *fakeBackend) lastChat() *fakeChat {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chats) == 0 {
		return nil
	}
	return b.chats[len(b.chats)-1]
}

type recordedDispatch struct {
	op      string
	outcome string
}

type fakeMetrics struct {
	mu      sync.Mutex
	records []recordedDispatch
}

func (m *fakeMetrics) RecordDispatch(_ context.Context, op, outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recordedDispatch{op: op, outcome: outcome})
}

func newTestDispatcher(t testing.TB, backend *fakeBackend, creds CredentialSource, opts ...Option) *Dispatcher {
	t.Helper()
	in, err := LoadInstructions()
	if err != nil {
		t.Fatalf("LoadInstructions failed: %v", err)
	}
	sessions := NewSessionManager(backend, creds, in)
	return NewDispatcher(sessions, backend, creds, in, conversation.NewStore(), opts...)
}
