// Package i18n resolves UI strings for the login screen from embedded YAML
// catalogs.
package i18n

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var catalogs embed.FS

// Bundle holds flattened catalogs keyed by language tag.
type Bundle struct {
	dict     map[string]map[string]string
	fallback string
	names    []string
	matcher  language.Matcher
}

// Load reads the embedded catalogs. fallback must be one of them.
func Load(fallback string) (*Bundle, error) {
	return LoadFS(catalogs, "locales", fallback)
}

// LoadFS reads every *.yaml file in dir. The file name without extension is
// the language tag.
func LoadFS(fsys fs.FS, dir, fallback string) (*Bundle, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read catalogs: %w", err)
	}

	b := &Bundle{dict: map[string]map[string]string{}}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".yaml" {
			continue
		}
		lang := strings.TrimSuffix(name, ".yaml")
		if _, err := language.Parse(lang); err != nil {
			return nil, fmt.Errorf("i18n: catalog %s: %w", name, err)
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", name, err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("i18n: unmarshal %s: %w", name, err)
		}
		flat := make(map[string]string)
		flatten("", tree, flat)
		b.dict[lang] = flat
	}

	fallback = strings.TrimSpace(fallback)
	if _, ok := b.dict[fallback]; !ok {
		return nil, fmt.Errorf("i18n: fallback locale %q not loaded", fallback)
	}
	b.fallback = fallback

	// The matcher treats its first tag as the default.
	b.names = append(b.names, fallback)
	others := make([]string, 0, len(b.dict))
	for lang := range b.dict {
		if lang != fallback {
			others = append(others, lang)
		}
	}
	sort.Strings(others)
	b.names = append(b.names, others...)

	tags := make([]language.Tag, 0, len(b.names))
	for _, name := range b.names {
		tags = append(tags, language.MustParse(name))
	}
	b.matcher = language.NewMatcher(tags)
	return b, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			flatten(full, v, out)
		case nil:
			out[full] = ""
		default:
			out[full] = fmt.Sprint(v)
		}
	}
}

// Supported lists the loaded language tags, fallback first.
func (b *Bundle) Supported() []string {
	return append([]string(nil), b.names...)
}

// Fallback returns the configured fallback language.
func (b *Bundle) Fallback() string { return b.fallback }

// T returns the translation for key in lang, falling back to the default
// language and finally to the key itself.
func (b *Bundle) T(lang, key string) string {
	if m, ok := b.dict[lang]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := b.dict[b.fallback][key]; ok {
		return v
	}
	return key
}

// Resolve picks the best supported language for an Accept-Language header.
func (b *Bundle) Resolve(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return b.fallback
	}
	return b.match(tags...)
}

// Match maps a single user supplied tag, such as a cookie or query value, to a
// supported language. ok is false when nothing matched.
func (b *Bundle) Match(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if _, exists := b.dict[raw]; exists {
		return raw, true
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", false
	}
	_, idx, conf := b.matcher.Match(tag)
	if conf == language.No {
		return "", false
	}
	return b.names[idx], true
}

func (b *Bundle) match(tags ...language.Tag) string {
	_, idx, conf := b.matcher.Match(tags...)
	if conf == language.No {
		return b.fallback
	}
	return b.names[idx]
}

// Localizer binds a bundle to one language.
type Localizer struct {
	bundle *Bundle
	lang   string
}

// For returns a Localizer for lang.
func (b *Bundle) For(lang string) Localizer {
	if _, ok := b.dict[lang]; !ok {
		lang = b.fallback
	}
	return Localizer{bundle: b, lang: lang}
}

// Lang returns the bound language.
func (l Localizer) Lang() string { return l.lang }

// T translates key. A zero Localizer returns the key.
func (l Localizer) T(key string) string {
	if l.bundle == nil {
		return key
	}
	return l.bundle.T(l.lang, key)
}

type langContextKey struct{}

// WithLang stores the negotiated language on ctx.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, langContextKey{}, lang)
}

// LangFromContext returns the negotiated language, or "" when none was set.
func LangFromContext(ctx context.Context) string {
	lang, _ := ctx.Value(langContextKey{}).(string)
	return lang
}
