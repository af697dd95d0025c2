package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StaticClient serves values from memory. Used for local development and tests.
type StaticClient struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticClient copies values into a new StaticClient.
func NewStaticClient(values map[string]string) *StaticClient {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticClient{values: copied}
}

// ParseStatic reads "key=value,key=value" pairs as used by LOGIN_SETTINGS_STATIC.
func ParseStatic(raw string) (map[string]string, error) {
	values := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("settings: malformed static entry %q", entry)
		}
		values[key] = strings.TrimSpace(value)
	}
	return values, nil
}

// Set replaces a single value.
func (c *StaticClient) Set(key, value string) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// PublicSetting implements Client.
func (c *StaticClient) PublicSetting(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}
