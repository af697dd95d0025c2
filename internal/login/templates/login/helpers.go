// Package login renders the login screen and its htmx fragments.
package login

import (
	"encoding/json"
	"strings"
)

const fieldTrigger = "input changed delay:150ms"

func csrfHeaders(token string) string {
	if token == "" {
		return "{}"
	}
	raw, err := json.Marshal(map[string]string{"X-CSRF-Token": token})
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func pageTitle(title, app string) string {
	switch {
	case title == "":
		return app
	case app == "":
		return title
	default:
		return title + " | " + app
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// signupTrigger delays the first poll so a fast flag lookup lands before the
// placeholder asks for it.
func signupTrigger(delay string) string {
	if strings.TrimSpace(delay) == "" {
		return "load"
	}
	return "load delay:" + delay
}

// themeIcon shows the mode the toggle switches to.
func themeIcon(d ThemeData) string {
	if d.Dark() {
		return "☀"
	}
	return "☾"
}
