// Package credential resolves the API key used for remote model calls.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/visual-study-buddy/internal/store"
	"github.com/ashureev/visual-study-buddy/internal/tutor"
)

// Source identifies where the active credential comes from.
type Source string

const (
	SourceStored      Source = "stored"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// Settings is the subset of store.Repository the resolver needs.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Resolver prefers a stored override over the process default.
type Resolver struct {
	settings Settings
	fallback string
}

// Ensure Resolver implements tutor.CredentialSource.
var _ tutor.CredentialSource = (*Resolver)(nil)

// NewResolver creates a resolver. fallback is the process-level default and
// may be empty.
func NewResolver(settings Settings, fallback string) *Resolver {
	return &Resolver{settings: settings, fallback: strings.TrimSpace(fallback)}
}

// APIKey returns the credential, or tutor.ErrMissingCredential when neither
// the override nor the default is set.
func (r *Resolver) APIKey(ctx context.Context) (string, error) {
	key, src, err := r.resolve(ctx)
	if err != nil {
		return "", err
	}
	if src == SourceNone {
		return "", tutor.ErrMissingCredential
	}
	return key, nil
}

// Source reports which credential APIKey would return.
func (r *Resolver) Source(ctx context.Context) (Source, error) {
	_, src, err := r.resolve(ctx)
	return src, err
}

func (r *Resolver) resolve(ctx context.Context) (string, Source, error) {
	stored, err := r.settings.GetSetting(ctx, store.KeyAPIKey)
	switch {
	case err == nil:
		if key := strings.TrimSpace(stored); key != "" {
			return key, SourceStored, nil
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return "", SourceNone, fmt.Errorf("read credential override: %w", err)
	}

	if r.fallback != "" {
		return r.fallback, SourceEnvironment, nil
	}
	return "", SourceNone, nil
}

// Set stores an override. A blank key clears it.
func (r *Resolver) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return r.Clear(ctx)
	}
	if err := r.settings.SetSetting(ctx, store.KeyAPIKey, key); err != nil {
		return fmt.Errorf("store credential override: %w", err)
	}
	slog.Info("Credential override stored")
	return nil
}

// Clear removes the override so the process default applies again.
func (r *Resolver) Clear(ctx context.Context) error {
	if err := r.settings.DeleteSetting(ctx, store.KeyAPIKey); err != nil {
		return fmt.Errorf("clear credential override: %w", err)
	}
	slog.Info("Credential override cleared")
	return nil
}
