package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWholeTemplatePreservesType(t *testing.T) {
	src := NewMapSource(
		map[string]any{"count": 3},
		map[string]any{},
	)

	out, err := Resolve("${variables.count}", src)
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestResolveEmbeddedTemplateStringifies(t *testing.T) {
	src := NewMapSource(
		map[string]any{"tenant": "acme"},
		map[string]any{},
	)

	out, err := Resolve("hello ${variables.tenant}!", src)
	require.NoError(t, err)
	assert.Equal(t, "hello acme!", out)
}

func TestResolveNestedOutputPath(t *testing.T) {
	src := NewMapSource(
		map[string]any{},
		map[string]any{
			"fetch": map[string]any{
				"body": map[string]any{
					"items": []any{
						map[string]any{"id": "abc"},
					},
				},
			},
		},
	)

	out, err := Resolve("${outputs.fetch.body.items[0].id}", src)
	require.NoError(t, err)
	assert.Equal(t, "abc", out)
}

func TestResolveUnknownReferencePreservesLiteral(t *testing.T) {
	src := NewMapSource(map[string]any{}, map[string]any{})

	out, err := Resolve("${variables.missing}", src)
	require.NoError(t, err)
	assert.Equal(t, "${variables.missing}", out)
}

func TestResolveUnknownReferenceEmbeddedPreservesLiteral(t *testing.T) {
	src := NewMapSource(map[string]any{}, map[string]any{})

	out, err := Resolve("hello ${variables.missing}!", src)
	require.NoError(t, err)
	assert.Equal(t, "hello ${variables.missing}!", out)
}

func TestResolveUnknownPathSegmentPreservesLiteral(t *testing.T) {
	src := NewMapSource(
		map[string]any{},
		map[string]any{"fetch": map[string]any{"body": "ok"}},
	)

	out, err := Resolve("${outputs.fetch.missing}", src)
	require.NoError(t, err)
	assert.Equal(t, "${outputs.fetch.missing}", out)
}

func TestResolveMapAndSliceRecurse(t *testing.T) {
	src := NewMapSource(map[string]any{"name": "bob"}, map[string]any{})

	in := map[string]any{
		"greeting": "hi ${variables.name}",
		"list":     []any{"${variables.name}", "literal"},
	}

	out, err := Resolve(in, src)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "hi bob", m["greeting"])
	assert.Equal(t, []any{"bob", "literal"}, m["list"])
}

func TestResolveIsIdempotentOnPlainValues(t *testing.T) {
	src := NewMapSource(map[string]any{}, map[string]any{})

	out, err := Resolve("no templates here", src)
	require.NoError(t, err)
	assert.Equal(t, "no templates here", out)
}
