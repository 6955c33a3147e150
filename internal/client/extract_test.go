package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractorEmptySelectorPassesThrough(t *testing.T) {
	e := NewExtractor()
	body := map[string]any{"a": 1}
	out, err := e.Apply(context.Background(), "", body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestExtractorSingleResult(t *testing.T) {
	e := NewExtractor()
	body := map[string]any{"user": map[string]any{"name": "ada"}}
	out, err := e.Apply(context.Background(), ".user.name", body)
	require.NoError(t, err)
	assert.Equal(t, "ada", out)
}

func TestExtractorMultipleResultsCollected(t *testing.T) {
	e := NewExtractor()
	body := map[string]any{"items": []any{
		map[string]any{"id": "a"},
		map[string]any{"id": "b"},
	}}
	out, err := e.Apply(context.Background(), ".items[].id", body)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestExtractorMissingFieldYieldsNil(t *testing.T) {
	e := NewExtractor()
	out, err := e.Apply(context.Background(), ".nope", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestExtractorInvalidSelector(t *testing.T) {
	e := NewExtractor()
	_, err := e.Apply(context.Background(), ".[unclosed", map[string]any{})
	assert.Error(t, err)
}

func TestExtractorCacheReuse(t *testing.T) {
	e := NewExtractor()
	for i := 0; i < 3; i++ {
		out, err := e.Apply(context.Background(), ".x", map[string]any{"x": 7})
		require.NoError(t, err)
		assert.EqualValues(t, 7, out)
	}
	assert.Len(t, e.cache, 1)
}
