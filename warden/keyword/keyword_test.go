package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  string
	}{
		{text: "", out: ""},
		{text: "  Hello   World ", out: "hello world"},
		{text: "Année Élevée", out: "annee elevee"},
		{text: "ça va?", out: "ca va?"},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, Normalize(fix.text))
	}
}

func TestTokenizeText(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  []string
	}{
		{text: "", out: []string{}},
		{text: "Hello, โลก!", out: []string{"hello", "โลก"}},
		{text: "Gdańsk", out: []string{"gdansk"}},
		{text: "t'es où ?", out: []string{"t", "es", "ou"}},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, TokenizeText(fix.text))
	}
}

func TestSlugifyAndLeet(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("jeremie42", Slugify("Jérémie_42"))
	assert.Equal("coke", FoldLeetspeak("c0k3"))
	assert.Equal("sale", FoldLeetspeak("$@le"))
}

func TestPatternMatching(t *testing.T) {
	assert := assert.New(t)

	ps, err := NewPatternSet([]string{"*connard*", "*fils*pute*", " cons "})
	assert.NoError(err)
	assert.Equal(3, ps.Len())

	m, ok := ps.Match("espèce de CONNARD!")
	assert.True(ok)
	assert.Equal("*connard*", m)

	m, ok = ps.Match("fils de pute")
	assert.True(ok)
	assert.Equal("*fils*pute*", m)

	// padded exact pattern hits the standalone word at either end
	_, ok = ps.Match("cons")
	assert.True(ok)
	_, ok = ps.Match("bande de cons")
	assert.True(ok)
	_, ok = ps.Match("les conseils")
	assert.False(ok)

	// accents are folded on both sides
	assert.NoError(ps.Add("*enculé*"))
	_, ok = ps.Match("ENCULE")
	assert.True(ok)

	// duplicate add is a no-op
	assert.NoError(ps.Add("*CONNARD*"))
	assert.Equal(4, ps.Len())

	assert.True(ps.Remove("*connard*"))
	assert.False(ps.Remove("*connard*"))
	_, ok = ps.Match("connard")
	assert.False(ok)

	_, err = CompilePattern("**")
	assert.Error(err)
}
