package testutil

import (
	"bytes"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

// ParseHTML parses a rendered page or fragment for DOM assertions.
func ParseHTML(t testing.TB, body []byte) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html (%d bytes): %v", len(body), err)
	}
	return doc
}

// Screen is what a rendered login page hands the browser: the mounted
// screen id and the CSRF token its forms echo back.
type Screen struct {
	Doc  *goquery.Document
	ID   string
	CSRF string
}

// ParseScreen parses a login page and fails unless it carries a screen id
// and a CSRF token.
func ParseScreen(t testing.TB, body []byte) Screen {
	t.Helper()

	doc := ParseHTML(t, body)
	id := doc.Find("body").AttrOr("data-screen-id", "")
	if id == "" {
		t.Fatalf("login page has no data-screen-id")
	}
	csrf := doc.Find(`input[name="_csrf"]`).AttrOr("value", "")
	if csrf == "" {
		t.Fatalf("login screen %s has no _csrf field", id)
	}
	if doc.Find("#login-form").Length() != 1 {
		t.Fatalf("login screen %s has no #login-form", id)
	}
	return Screen{Doc: doc, ID: id, CSRF: csrf}
}
