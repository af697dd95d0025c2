package authn

import (
	"context"
	"errors"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// ErrTokenExpired is returned when the Firebase token has expired.
var ErrTokenExpired = errors.New("firebase token expired")

// FirebaseTokenVerifier abstracts the Firebase Admin SDK client for testability.
type FirebaseTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier validates Firebase ID tokens and maps them onto a User.
type FirebaseVerifier struct {
	verifier FirebaseTokenVerifier
}

// NewFirebaseVerifier constructs a TokenVerifier backed by the provided verifier.
func NewFirebaseVerifier(verifier FirebaseTokenVerifier) *FirebaseVerifier {
	if verifier == nil {
		panic("firebase token verifier is required")
	}
	return &FirebaseVerifier{verifier: verifier}
}

// Verify implements TokenVerifier.
func (f *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*User, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, NewAuthError(ReasonTokenInvalid, ErrUnauthorized)
	}

	verified, err := f.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		switch {
		case firebaseauth.IsIDTokenExpired(err), errors.Is(err, ErrTokenExpired):
			return nil, NewAuthError(ReasonTokenExpired, err)
		case firebaseauth.IsUserDisabled(err):
			return nil, NewAuthError(ReasonUserDisabled, err)
		default:
			return nil, NewAuthError(ReasonTokenInvalid, err)
		}
	}

	return &User{
		UID:   verified.UID,
		Email: claimString(verified.Claims["email"]),
		Roles: claimStrings(verified.Claims["role"], verified.Claims["roles"]),
	}, nil
}

func claimString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	default:
		return ""
	}
}

// claimStrings merges string, list and {name: true} shaped claims, dropping
// blanks and duplicates while keeping first-seen order.
func claimStrings(values ...any) []string {
	seen := make(map[string]struct{})
	var result []string

	add := func(val string) {
		val = strings.TrimSpace(val)
		if val == "" {
			return
		}
		if _, ok := seen[val]; !ok {
			seen[val] = struct{}{}
			result = append(result, val)
		}
	}

	for _, value := range values {
		switch v := value.(type) {
		case string:
			add(v)
		case []string:
			for _, item := range v {
				add(item)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case map[string]any:
			for key, val := range v {
				if b, ok := val.(bool); ok && b {
					add(key)
				}
			}
		}
	}
	return result
}
