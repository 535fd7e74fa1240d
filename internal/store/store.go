// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
)

// KeyAPIKey is the well-known key of the user's credential override. It is
// the only setting that survives a restart.
const KeyAPIKey = "GEMINI_API_KEY"

// ErrNotFound is returned when a setting has no stored value.
var ErrNotFound = errors.New("setting not found")

// Repository persists local user settings.
type Repository interface {
	// GetSetting returns the value stored under key, or ErrNotFound.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting creates or replaces the value stored under key.
	SetSetting(ctx context.Context, key, value string) error

	// DeleteSetting removes key. Deleting a missing key is not an error.
	DeleteSetting(ctx context.Context, key string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
