package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/visual-study-buddy/internal/conversation"
	"github.com/ashureev/visual-study-buddy/internal/domain"
)

const (
	fallbackAnalysis = "I examined the image but could not generate a response."
	fallbackReply    = "No response received."
	visualizeConcept = "Visualize this concept."
)

var (
	// ErrEmptyMessage is returned for blank follow-up or visualize prompts.
	ErrEmptyMessage = errors.New("message is required")

	// ErrNothingToVisualize means there is no explanation to derive a prompt from.
	ErrNothingToVisualize = errors.New("no explanation to visualize")

	// ErrTurnNotFound is returned for a turn ID that is not in the store.
	ErrTurnNotFound = errors.New("turn not found")
)

// Operation names used in logs and metrics.
const (
	OpAnalyze   = "analyze_image"
	OpSend      = "send_text"
	OpVisualize = "generate_image"
)

// Dispatcher serializes requests against the session. At most one request is
// pending at any time; a second dispatch is rejected, not queued.
type Dispatcher struct {
	sessions     *SessionManager
	backend      Backend
	creds        CredentialSource
	instructions *Instructions
	store        *conversation.Store
	metrics      Metrics
	onTurn       func(domain.Turn)

	mu       sync.Mutex
	pending  bool
	selected domain.Subject
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records every settled dispatch.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithTurnObserver is called with every turn the dispatcher appends.
func WithTurnObserver(fn func(domain.Turn)) Option {
	return func(d *Dispatcher) {
		d.onTurn = fn
	}
}

// NewDispatcher wires a dispatcher around a session manager and a store.
func NewDispatcher(sessions *SessionManager, backend Backend, creds CredentialSource, instructions *Instructions, store *conversation.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions:     sessions,
		backend:      backend,
		creds:        creds,
		instructions: instructions,
		store:        store,
		metrics:      noopMetrics{},
		selected:     domain.DefaultSubject,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store returns the message store the dispatcher appends to.
func (d *Dispatcher) Store() *conversation.Store {
	return d.store
}

// Select chooses the subject for the next uploaded image. A live session
// started for another subject is dropped; the store is kept until the next
// upload.
func (d *Dispatcher) Select(subject domain.Subject) error {
	if !subject.Valid() {
		return fmt.Errorf("unknown subject %q", subject)
	}
	if err := d.begin(); err != nil {
		return err
	}
	defer d.end()

	d.mu.Lock()
	d.selected = subject
	d.mu.Unlock()

	if _, active, ok := d.sessions.Active(); ok && active != subject {
		d.sessions.Reset()
		slog.Info("Session dropped after subject change", "from", active, "to", subject)
	}
	return nil
}

// Selected returns the currently selected subject.
func (d *Dispatcher) Selected() domain.Subject {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// Pending reports whether a request is in flight.
func (d *Dispatcher) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Reset clears the store and drops the session.
func (d *Dispatcher) Reset() error {
	if err := d.begin(); err != nil {
		return err
	}
	defer d.end()
	d.store.Clear()
	d.sessions.Reset()
	slog.Info("Conversation reset")
	return nil
}

// AnalyzeImage starts a brand-new session for the selected subject, clears
// the store and appends the model's analysis of img.
func (d *Dispatcher) AnalyzeImage(ctx context.Context, img Image) (domain.Turn, error) {
	return d.AnalyzeImageAs(ctx, "", img)
}

// AnalyzeImageAs selects subject and analyzes img under one pending gate. An
// empty subject keeps the current selection. Nothing changes when the
// request is rejected.
func (d *Dispatcher) AnalyzeImageAs(ctx context.Context, subject domain.Subject, img Image) (domain.Turn, error) {
	if subject != "" && !subject.Valid() {
		return domain.Turn{}, fmt.Errorf("unknown subject %q", subject)
	}
	if err := d.begin(); err != nil {
		return domain.Turn{}, err
	}
	defer d.end()

	start := time.Now()
	d.mu.Lock()
	if subject != "" {
		d.selected = subject
	}
	subject = d.selected
	d.mu.Unlock()

	d.store.Clear()
	if err := d.sessions.Start(ctx, subject); err != nil {
		return d.fail(ctx, OpAnalyze, start, err, false), nil
	}

	chat, _, ok := d.sessions.Active()
	if !ok {
		return d.fail(ctx, OpAnalyze, start, ErrUninitializedSession, false), nil
	}

	reply, err := chat.Send(ctx, Message{
		Text:  d.instructions.Analysis(subject),
		Image: &img,
	})
	if err != nil {
		return d.fail(ctx, OpAnalyze, start, err, true), nil
	}

	text := withSources(orDefault(reply.Text, fallbackAnalysis), reply.Sources)
	return d.succeed(ctx, OpAnalyze, start, text, ""), nil
}

// SendText appends the user's follow-up and the model's reply. It requires a
// session started by AnalyzeImage.
func (d *Dispatcher) SendText(ctx context.Context, text string) (domain.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Turn{}, ErrEmptyMessage
	}
	if err := d.begin(); err != nil {
		return domain.Turn{}, err
	}
	defer d.end()

	start := time.Now()
	d.appendTurn(domain.RoleUser, text, "")

	chat, _, ok := d.sessions.Active()
	if !ok {
		return d.fail(ctx, OpSend, start, ErrUninitializedSession, false), nil
	}

	reply, err := chat.Send(ctx, Message{Text: text})
	if err != nil {
		return d.fail(ctx, OpSend, start, err, true), nil
	}

	return d.succeed(ctx, OpSend, start, withSources(orDefault(reply.Text, fallbackReply), reply.Sources), ""), nil
}

// GenerateImage renders prompt into a diagram. It does not use or require the
// chat session.
func (d *Dispatcher) GenerateImage(ctx context.Context, prompt string) (domain.Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.Turn{}, ErrEmptyMessage
	}
	if err := d.begin(); err != nil {
		return domain.Turn{}, err
	}
	defer d.end()

	start := time.Now()
	if last, ok := d.store.Last(); ok && last.Role == domain.RoleModel {
		d.appendTurn(domain.RoleUser, visualizeConcept, "")
	} else {
		d.appendTurn(domain.RoleUser, "Visualize: "+prompt, "")
	}

	apiKey, err := d.creds.APIKey(ctx)
	if err != nil {
		return d.fail(ctx, OpVisualize, start, err, false), nil
	}

	img, err := d.backend.GenerateImage(ctx, apiKey, d.instructions.Illustration(prompt))
	if err != nil {
		return d.fail(ctx, OpVisualize, start, err, true), nil
	}

	return d.succeed(ctx, OpVisualize, start, "", img.DataURI()), nil
}

// VisualizePrompt derives an image prompt from an explanation: the turn with
// turnID, or the latest explanation when turnID is empty.
func (d *Dispatcher) VisualizePrompt(policy VisualizePolicy, turnID string) (string, error) {
	var (
		turn domain.Turn
		ok   bool
	)
	if turnID == "" {
		turn, ok = d.store.LastExplanation()
	} else {
		var found bool
		turn, found, ok = d.store.Explanation(turnID)
		if !found {
			return "", ErrTurnNotFound
		}
	}
	if !ok {
		return "", ErrNothingToVisualize
	}
	prompt := policy.Prompt(turn.Content)
	if strings.TrimSpace(prompt) == "" {
		return "", ErrNothingToVisualize
	}
	return prompt, nil
}

func (d *Dispatcher) begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		return ErrRequestPending
	}
	d.pending = true
	return nil
}

func (d *Dispatcher) end() {
	d.mu.Lock()
	d.pending = false
	d.mu.Unlock()
}

func (d *Dispatcher) appendTurn(role domain.Role, content, imageURL string) domain.Turn {
	turn := d.store.Append(role, content, imageURL)
	if d.onTurn != nil {
		d.onTurn(turn)
	}
	return turn
}

func (d *Dispatcher) succeed(ctx context.Context, op string, start time.Time, content, imageURL string) domain.Turn {
	turn := d.appendTurn(domain.RoleModel, content, imageURL)
	d.metrics.RecordDispatch(ctx, op, "ok", time.Since(start).Seconds())
	slog.Info("Dispatch completed", "op", op, "turn_id", turn.ID, "duration", time.Since(start))
	return turn
}

// fail converts err into an error turn. Only remote failures are classified;
// local precondition and session construction errors keep their message.
func (d *Dispatcher) fail(ctx context.Context, op string, start time.Time, err error, remote bool) domain.Turn {
	msg := err.Error()
	outcome := "local_error"
	if remote {
		c := Classify(err)
		msg = c.Message
		outcome = string(c.Category)
	}
	if strings.TrimSpace(msg) == "" {
		msg = msgFallback
	}

	slog.Warn("Dispatch failed", "op", op, "outcome", outcome, "error", err)
	turn := d.appendTurn(domain.RoleModel, domain.ErrorPrefix+msg, "")
	d.metrics.RecordDispatch(ctx, op, outcome, time.Since(start).Seconds())
	return turn
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// withSources appends de-duplicated grounding citations to text.
func withSources(text string, sources []Source) string {
	seen := make(map[string]bool, len(sources))
	var lines []string
	for _, src := range sources {
		if src.URI == "" || src.Title == "" {
			continue
		}
		line := fmt.Sprintf("- [%s](%s)", src.Title, src.URI)
		if seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return text
	}
	return text + "\n\n### Verified Sources\n" + strings.Join(lines, "\n")
}
