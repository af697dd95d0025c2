// Package theme owns the light/dark presentation mode of the login screen.
package theme

import (
	"strings"
	"sync"

	"finitefield.org/hanko-login/internal/login/session"
)

// Mode is the presentation mode.
type Mode string

const (
	ModeLight Mode = "light"
	ModeDark  Mode = "dark"
)

// ParseMode accepts "light" or "dark" in any case.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeLight:
		return ModeLight, true
	case ModeDark:
		return ModeDark, true
	default:
		return "", false
	}
}

// Opposite returns the mode a toggle switches to.
func (m Mode) Opposite() Mode {
	if m == ModeDark {
		return ModeLight
	}
	return ModeDark
}

// Controller exposes the current mode and the toggle action.
type Controller interface {
	Mode() Mode
	ToggleColorMode()
}

// MemoryController keeps the mode in process memory.
type MemoryController struct {
	mu   sync.Mutex
	mode Mode
}

// NewMemoryController starts at the given mode, light when unset.
func NewMemoryController(initial Mode) *MemoryController {
	if _, ok := ParseMode(string(initial)); !ok {
		initial = ModeLight
	}
	return &MemoryController{mode: initial}
}

// Mode implements Controller.
func (c *MemoryController) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ToggleColorMode implements Controller.
func (c *MemoryController) ToggleColorMode() {
	c.mu.Lock()
	c.mode = c.mode.Opposite()
	c.mu.Unlock()
}

// SessionController stores the mode in the visitor's session cookie so it
// survives remounts of the login screen.
type SessionController struct {
	sess     *session.Session
	fallback Mode
}

// FromSession binds a controller to the request session. A nil session behaves
// as a read-only controller reporting the fallback.
func FromSession(sess *session.Session, fallback Mode) *SessionController {
	if _, ok := ParseMode(string(fallback)); !ok {
		fallback = ModeLight
	}
	return &SessionController{sess: sess, fallback: fallback}
}

// Mode implements Controller.
func (c *SessionController) Mode() Mode {
	if c.sess == nil {
		return c.fallback
	}
	if mode, ok := ParseMode(c.sess.Theme()); ok {
		return mode
	}
	return c.fallback
}

// ToggleColorMode implements Controller.
func (c *SessionController) ToggleColorMode() {
	if c.sess == nil {
		return
	}
	c.sess.SetTheme(string(c.Mode().Opposite()))
}
