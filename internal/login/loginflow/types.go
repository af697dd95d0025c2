// Package loginflow holds the per-screen state of the login entry screen: the
// credential pair being typed, the one-shot signup flag lookup and the hand-off
// of a submission to the authentication collaborator.
package loginflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finitefield.org/hanko-login/internal/login/settings"
	"finitefield.org/hanko-login/internal/login/theme"
)

var (
	// ErrUnmounted is returned when an operation targets a screen that has been torn down.
	ErrUnmounted = errors.New("loginflow: screen unmounted")
	// ErrUnknownField is returned by ParseField for names outside the credential pair.
	ErrUnknownField = errors.New("loginflow: unknown field")
	// ErrNoCollaborator is returned by Submit when no auth collaborator is supplied.
	ErrNoCollaborator = errors.New("loginflow: auth collaborator is required")
)

// Field names one half of the credential pair.
type Field int

const (
	FieldIdentifier Field = iota + 1
	FieldSecret
)

// ParseField maps a form field name. The browser-facing names "email" and
// "password" are accepted as aliases.
func ParseField(name string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "identifier", "email":
		return FieldIdentifier, nil
	case "secret", "password":
		return FieldSecret, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
}

func (f Field) String() string {
	switch f {
	case FieldIdentifier:
		return "identifier"
	case FieldSecret:
		return "secret"
	default:
		return "unknown"
	}
}

// Credentials is the pair typed into the form. Both values are always defined
// and are passed to the collaborator exactly as entered.
type Credentials struct {
	Identifier string
	Secret     string
}

// String keeps the secret out of logs and fmt output.
func (c Credentials) String() string {
	secret := ""
	if c.Secret != "" {
		secret = "[redacted]"
	}
	return fmt.Sprintf("{identifier:%q secret:%s}", c.Identifier, secret)
}

// Phase tracks the signup flag lookup.
type Phase int

const (
	PhaseSignupUnknown Phase = iota
	PhaseSignupResolved
)

func (p Phase) String() string {
	if p == PhaseSignupResolved {
		return "signup_resolved"
	}
	return "signup_unknown"
}

// FetchOutcome records how the lookup settled. It is kept for diagnostics; the
// screen only ever reads SignupAllowed.
type FetchOutcome int

const (
	OutcomePending FetchOutcome = iota
	OutcomeEnabled
	OutcomeDisabled
	OutcomeFailed
	// OutcomeDiscarded marks a lookup that was still pending at unmount.
	OutcomeDiscarded
)

func (o FetchOutcome) String() string {
	switch o {
	case OutcomeEnabled:
		return "enabled"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "pending"
	}
}

// SettingsClient resolves on/off public settings.
type SettingsClient interface {
	Toggle(ctx context.Context, key string) (settings.Toggle, error)
}

// AuthCollaborator performs the actual sign-in. It owns validation, session
// writes, navigation and error display.
type AuthCollaborator interface {
	HandleLogin(creds Credentials)
}

// AuthCollaboratorFunc adapts a function to AuthCollaborator.
type AuthCollaboratorFunc func(creds Credentials)

// HandleLogin implements AuthCollaborator.
func (f AuthCollaboratorFunc) HandleLogin(creds Credentials) {
	f(creds)
}

// ThemeController is the external owner of the colour mode.
type ThemeController = theme.Controller

// View is the read-only snapshot a renderer needs. The secret is never part of it.
type View struct {
	ScreenID      string
	Identifier    string
	SignupAllowed bool
	Resolved      bool
	Mode          theme.Mode
}
