package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultIdentityToolkitURL is the public Firebase Auth REST endpoint.
const DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"

const maxIdentityToolkitBody = 1 << 20

// HTTPDoer matches the subset of http.Client used by IdentityToolkitClient.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// IdentityToolkitClient signs users in with email and password through the
// Identity Toolkit REST API.
type IdentityToolkitClient struct {
	endpoint string
	client   HTTPDoer
}

// NewIdentityToolkitClient constructs a PasswordVerifier. baseURL defaults to
// DefaultIdentityToolkitURL and may point at the Auth emulator.
func NewIdentityToolkitClient(apiKey, baseURL string, client HTTPDoer) (*IdentityToolkitClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("authn: identity toolkit api key is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultIdentityToolkitURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("authn: parse identity toolkit url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("authn: identity toolkit url %q must be absolute", baseURL)
	}
	endpoint := parsed.JoinPath("v1", "accounts:signInWithPassword")
	endpoint.RawQuery = url.Values{"key": {apiKey}}.Encode()

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &IdentityToolkitClient{endpoint: endpoint.String(), client: client}, nil
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type identityToolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignInWithPassword implements PasswordVerifier.
func (c *IdentityToolkitClient) SignInWithPassword(ctx context.Context, identifier, secret string) (*SignInResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return nil, NewAuthError(ReasonMissingCredentials, ErrUnauthorized)
	}

	body, err := json.Marshal(signInRequest{Email: identifier, Password: secret, ReturnSecureToken: true})
	if err != nil {
		return nil, fmt.Errorf("authn: encode sign-in request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("authn: build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewAuthError(ReasonUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityToolkitBody))
	if err != nil {
		return nil, NewAuthError(ReasonUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, identityToolkitFailure(resp.StatusCode, raw)
	}

	var payload signInResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, NewAuthError(ReasonUnavailable, fmt.Errorf("decode sign-in response: %w", err))
	}
	if payload.LocalID == "" || payload.IDToken == "" {
		return nil, NewAuthError(ReasonUnavailable, errors.New("sign-in response missing identity"))
	}

	result := &SignInResult{
		UID:          payload.LocalID,
		Email:        payload.Email,
		IDToken:      payload.IDToken,
		RefreshToken: payload.RefreshToken,
	}
	if secs, err := strconv.Atoi(payload.ExpiresIn); err == nil && secs > 0 {
		result.ExpiresIn = time.Duration(secs) * time.Second
	}
	return result, nil
}

// identityToolkitFailure maps the REST error message, which may carry a
// " : detail" suffix, to a reason.
func identityToolkitFailure(status int, raw []byte) error {
	var payload identityToolkitError
	_ = json.Unmarshal(raw, &payload)
	message := strings.TrimSpace(payload.Error.Message)
	code, _, _ := strings.Cut(message, " ")
	cause := fmt.Errorf("identity toolkit %d: %s", status, firstNonEmpty(message, http.StatusText(status)))

	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL":
		return NewAuthError(ReasonInvalidCredentials, cause)
	case "MISSING_EMAIL", "MISSING_PASSWORD":
		return NewAuthError(ReasonMissingCredentials, cause)
	case "USER_DISABLED":
		return NewAuthError(ReasonUserDisabled, cause)
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return NewAuthError(ReasonRateLimited, cause)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return NewAuthError(ReasonRateLimited, cause)
	case status >= http.StatusInternalServerError, status == http.StatusForbidden:
		return NewAuthError(ReasonUnavailable, cause)
	default:
		return NewAuthError(ReasonInvalidCredentials, cause)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
