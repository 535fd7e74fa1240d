// Package convlog writes the conversation as NDJSON events to a rotated file.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ashureev/visual-study-buddy/internal/conversation"
	"github.com/ashureev/visual-study-buddy/internal/domain"
)

// Config controls conversation logging.
type Config struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	QueueSize  int
}

// Event is one line of the conversation log. Image payloads are never
// written, only whether a turn carried one.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	TurnID    string      `json:"turn_id"`
	Role      domain.Role `json:"role"`
	Concept   string      `json:"concept,omitempty"`
	Code      string      `json:"code,omitempty"`
	HasImage  bool        `json:"has_image"`
	IsError   bool        `json:"is_error"`
}

// EventFromTurn builds a log event from a turn.
func EventFromTurn(t domain.Turn) Event {
	concept, code := conversation.Split(t.Content)
	return Event{
		Timestamp: t.Timestamp,
		TurnID:    t.ID,
		Role:      t.Role,
		Concept:   strings.TrimSpace(concept),
		Code:      strings.TrimSpace(code),
		HasImage:  t.HasImage(),
		IsError:   t.IsError(),
	}
}

// Logger writes events asynchronously. Events are dropped, not blocked on,
// when the queue is full.
type Logger struct {
	out     *lumberjack.Logger
	logger  *slog.Logger
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
}

// New creates a logger. A disabled config yields a nil logger, which is
// safe to use.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}

	l := &Logger{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		},
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// ObserveTurn logs a turn. It matches the dispatcher's turn observer.
func (l *Logger) ObserveTurn(t domain.Turn) {
	l.Log(EventFromTurn(t))
}

// Log enqueues an event.
func (l *Logger) Log(ev Event) {
	if l == nil {
		return
	}
	select {
	case l.queue <- ev:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Conversation log queue full, dropping events", "dropped", n)
		}
	}
}

func (l *Logger) run() {
	defer close(l.done)
	enc := json.NewEncoder(l.out)
	for ev := range l.queue {
		if err := enc.Encode(ev); err != nil {
			l.logger.Error("Failed to write conversation log event", "error", err, "turn_id", ev.TurnID)
		}
	}
}

// Close flushes queued events and closes the file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
		err = l.out.Close()
	})
	return err
}
