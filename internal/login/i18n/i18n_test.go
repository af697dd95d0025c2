package i18n

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalogsShareKeys(t *testing.T) {
	b, err := Load("pt-BR")
	require.NoError(t, err)
	require.Equal(t, []string{"pt-BR", "en", "ja"}, b.Supported())

	for _, lang := range b.Supported() {
		require.Equal(t, len(b.dict["pt-BR"]), len(b.dict[lang]), lang)
		for key := range b.dict["pt-BR"] {
			_, ok := b.dict[lang][key]
			require.True(t, ok, "%s missing %s", lang, key)
		}
	}
	require.Equal(t, "Senha", b.T("pt-BR", "login.form.password"))
	require.Equal(t, "Create an account", b.T("en", "login.buttons.register"))
}

func TestTFallsBack(t *testing.T) {
	fsys := fstest.MapFS{
		"cat/en.yaml": {Data: []byte("login:\n  title: Sign in\n  only_en: yes-en\n")},
		"cat/ja.yaml": {Data: []byte("login:\n  title: ログイン\n")},
	}
	b, err := LoadFS(fsys, "cat", "en")
	require.NoError(t, err)

	require.Equal(t, "ログイン", b.T("ja", "login.title"))
	require.Equal(t, "yes-en", b.T("ja", "login.only_en"))
	require.Equal(t, "missing.key", b.T("ja", "missing.key"))
	require.Equal(t, "Sign in", b.T("fr", "login.title"))

	_, err = LoadFS(fsys, "cat", "de")
	require.Error(t, err)
}

func TestResolveHonorsQValues(t *testing.T) {
	b, err := Load("pt-BR")
	require.NoError(t, err)

	require.Equal(t, "en", b.Resolve("ja;q=0.8, en;q=0.9"))
	require.Equal(t, "ja", b.Resolve("ja-JP,ja;q=0.9"))
	require.Equal(t, "en", b.Resolve("en-US,en;q=0.9"))
	require.Equal(t, "pt-BR", b.Resolve("fr-FR"))
	require.Equal(t, "pt-BR", b.Resolve(""))
	require.Equal(t, "pt-BR", b.Resolve(";;;"))
}

func TestMatch(t *testing.T) {
	b, err := Load("pt-BR")
	require.NoError(t, err)

	lang, ok := b.Match("ja")
	require.True(t, ok)
	require.Equal(t, "ja", lang)

	lang, ok = b.Match("en-GB")
	require.True(t, ok)
	require.Equal(t, "en", lang)

	_, ok = b.Match("xx-invalid-!")
	require.False(t, ok)

	_, ok = b.Match("")
	require.False(t, ok)
}

func TestLocalizerAndContext(t *testing.T) {
	b, err := Load("pt-BR")
	require.NoError(t, err)

	l := b.For("de")
	require.Equal(t, "pt-BR", l.Lang())
	require.Equal(t, "Entrar", l.T("login.buttons.submit"))
	require.Equal(t, "login.title", Localizer{}.T("login.title"))

	ctx := WithLang(context.Background(), "ja")
	require.Equal(t, "ja", LangFromContext(ctx))
	require.Empty(t, LangFromContext(context.Background()))
}
