// Package settings reads public, non-sensitive configuration values served by
// the settings service and narrows them to typed values for the login screen.
package settings

import (
	"context"
	"errors"
)

// KeyAllowSignup gates the self-registration link on the login screen.
const KeyAllowSignup = "allowSignup"

// ErrNotFound indicates the settings backend has no value for the key.
var ErrNotFound = errors.New("settings: not found")

// Client fetches raw public setting values.
type Client interface {
	PublicSetting(ctx context.Context, key string) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, key string) (string, error)

// PublicSetting implements Client.
func (f ClientFunc) PublicSetting(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

// Toggle is the closed set of values an on/off public setting can take.
type Toggle int

const (
	// ToggleUnknown covers missing, empty and unrecognised values.
	ToggleUnknown Toggle = iota
	ToggleEnabled
	ToggleDisabled
)

// ParseToggle maps the raw wire value. Only the exact strings "enabled" and
// "disabled" are recognised.
func ParseToggle(raw string) Toggle {
	switch raw {
	case "enabled":
		return ToggleEnabled
	case "disabled":
		return ToggleDisabled
	default:
		return ToggleUnknown
	}
}

// Enabled reports whether the toggle is switched on.
func (t Toggle) Enabled() bool {
	return t == ToggleEnabled
}

func (t Toggle) String() string {
	switch t {
	case ToggleEnabled:
		return "enabled"
	case ToggleDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ToggleReader narrows a Client to Toggle values.
type ToggleReader struct {
	client Client
}

// NewToggleReader wraps client.
func NewToggleReader(client Client) ToggleReader {
	return ToggleReader{client: client}
}

// Toggle fetches key and parses it. Errors from the backend are returned with
// ToggleUnknown.
func (r ToggleReader) Toggle(ctx context.Context, key string) (Toggle, error) {
	if r.client == nil {
		return ToggleUnknown, errors.New("settings: client not configured")
	}
	raw, err := r.client.PublicSetting(ctx, key)
	if err != nil {
		return ToggleUnknown, err
	}
	return ParseToggle(raw), nil
}
