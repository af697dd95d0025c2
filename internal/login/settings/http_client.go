package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxSettingBody = 1 << 16

// HTTPDoer matches the subset of http.Client used by HTTPClient.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPClient reads public settings from the backend REST endpoint
// GET {base}/public-settings/{key}.
type HTTPClient struct {
	base   *url.URL
	client HTTPDoer
}

// NewHTTPClient constructs a Client talking to the settings service at baseURL.
func NewHTTPClient(baseURL string, client HTTPDoer) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("settings: base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("settings: parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("settings: base URL %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{base: parsed, client: client}, nil
}

// PublicSetting implements Client.
func (c *HTTPClient) PublicSetting(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("settings: key is required")
	}

	if strings.Contains(key, "/") {
		return "", fmt.Errorf("settings: invalid key %q", key)
	}

	endpoint := c.resolve("public-settings/" + key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("settings: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("settings: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode != http.StatusOK:
		return "", errorFromResponse(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSettingBody))
	if err != nil {
		return "", fmt.Errorf("settings: read response: %w", err)
	}
	return decodeValue(resp.Header.Get("Content-Type"), body)
}

func (c *HTTPClient) resolve(endpoint string) string {
	ref := &url.URL{Path: strings.TrimPrefix(endpoint, "/")}
	return c.base.ResolveReference(ref).String()
}

// decodeValue accepts a bare JSON value, an object carrying "value", or plain
// text. JSON null decodes to "".
func decodeValue(contentType string, body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/json" && !json.Valid(trimmed) {
		return string(trimmed), nil
	}
	if len(trimmed) == 0 {
		return "", nil
	}

	var raw any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return "", fmt.Errorf("settings: decode value: %w", err)
	}
	if obj, ok := raw.(map[string]any); ok {
		raw = obj["value"]
	}
	return scalarString(raw)
}

func scalarString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("settings: unsupported value type %T", value)
	}
}

func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxSettingBody))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err == nil {
			msg := firstNonEmpty(payload.Message, payload.Error)
			if msg != "" {
				return fmt.Errorf("settings: backend error (%d): %s", resp.StatusCode, msg)
			}
		}
		return fmt.Errorf("settings: backend error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("settings: backend error (%d): %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
