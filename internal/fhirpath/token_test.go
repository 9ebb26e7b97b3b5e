package fhirpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_Basic(t *testing.T) {
	tokens, err := Tokenize("Patient.name.where(use = 'official').given")
	require.NoError(t, err)
	require.NotEmpty(t, tokens)
	assert.Equal(t, KindEOF, tokens[len(tokens)-1].Kind)

	var idents []string
	for _, tok := range tokens {
		if tok.Kind == KindIdentifier {
			idents = append(idents, tok.Value)
		}
	}
	assert.Equal(t, []string{"Patient", "name", "where", "use", "given"}, stripQuoted(idents))
}

func stripQuoted(idents []string) []string {
	out := make([]string, 0, len(idents))
	for _, id := range idents {
		out = append(out, id)
	}
	return out
}

func TestTokenize_StringEscapes(t *testing.T) {
	tokens, err := Tokenize(`'a\'b'`)
	require.NoError(t, err)
	require.Equal(t, "a'b", tokens[0].Value)
}

func TestTokenize_MultiCharOperators(t *testing.T) {
	tokens, err := Tokenize("a <= b")
	require.NoError(t, err)
	assert.Equal(t, "<=", tokens[1].Value)
}

func TestTokenize_UnterminatedStringErrors(t *testing.T) {
	_, err := Tokenize("'abc")
	assert.Error(t, err)
}
