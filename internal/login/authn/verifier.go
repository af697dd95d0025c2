package authn

import (
	"context"
	"strings"
	"time"
)

// User is the identity established by a successful sign-in.
type User struct {
	UID   string
	Email string
	Roles []string
}

// SignInResult is what a password verifier returns.
type SignInResult struct {
	UID          string
	Email        string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

// PasswordVerifier checks an identifier/secret pair against the identity provider.
type PasswordVerifier interface {
	SignInWithPassword(ctx context.Context, identifier, secret string) (*SignInResult, error)
}

// TokenVerifier validates an ID token and resolves the user it names.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*User, error)
}

const devTokenPrefix = "dev:"

// DevVerifier accepts any non-empty pair and is intended for local development.
type DevVerifier struct{}

// SignInWithPassword implements PasswordVerifier.
func (DevVerifier) SignInWithPassword(_ context.Context, identifier, secret string) (*SignInResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return nil, NewAuthError(ReasonMissingCredentials, ErrUnauthorized)
	}
	return &SignInResult{
		UID:       identifier,
		Email:     identifier,
		IDToken:   devTokenPrefix + identifier,
		ExpiresIn: time.Hour,
	}, nil
}

// Verify implements TokenVerifier for tokens minted by SignInWithPassword.
func (DevVerifier) Verify(_ context.Context, idToken string) (*User, error) {
	uid, ok := strings.CutPrefix(strings.TrimSpace(idToken), devTokenPrefix)
	if !ok || uid == "" {
		return nil, NewAuthError(ReasonTokenInvalid, ErrUnauthorized)
	}
	user := &User{UID: uid}
	if strings.Contains(uid, "@") {
		user.Email = uid
	}
	return user, nil
}
