package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestValueDottedPath(t *testing.T) {
	v := decode(t, `{"data":{"user":{"name":"John","id":7}}}`)

	got, ok := Value(v, "data.user.name")
	require.True(t, ok)
	assert.Equal(t, "John", got)

	got, ok = Value(v, "data.user.id")
	require.True(t, ok)
	assert.Equal(t, float64(7), got)
}

func TestValueNotFound(t *testing.T) {
	v := decode(t, `{"data":{"token":"abc"}}`)

	for _, expr := range []string{
		"data.missing",
		"missing",
		"data.token.deeper", // leaf is not a composite
		"[name=x].id",       // root is not an array
	} {
		_, ok := Value(v, expr)
		assert.False(t, ok, "expr %q", expr)
	}
}

func TestValuePredicateSelect(t *testing.T) {
	v := decode(t, `[{"id":1,"name":"John"},{"id":2,"name":"Jane"}]`)

	got, ok := Value(v, "[name=John].id")
	require.True(t, ok)
	assert.Equal(t, float64(1), got)

	got, ok = Value(v, "[id=2].name")
	require.True(t, ok)
	assert.Equal(t, "Jane", got)

	_, ok = Value(v, "[name=Jim].id")
	assert.False(t, ok)
}

func TestValueNestedPredicate(t *testing.T) {
	v := decode(t, `{"users":[{"role":"admin","email":"a@x.io"},{"role":"user","email":"b@x.io"}]}`)

	got, ok := Value(v, "users.[role=admin].email")
	require.True(t, ok)
	assert.Equal(t, "a@x.io", got)
}

func TestPredicateSelectsWholeElement(t *testing.T) {
	v := decode(t, `[{"id":1,"name":"John"}]`)

	got, ok := Value(v, "[id=1]")
	require.True(t, ok)
	elem, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "John", elem["name"])
}

func TestBearerToken(t *testing.T) {
	v := decode(t, `{"data":{"token":"abc"}}`)
	got, ok := BearerToken(v, "data.token")
	require.True(t, ok)
	assert.Equal(t, "Bearer abc", got)

	v = decode(t, `{"data":{"token":"Bearer abc"}}`)
	got, ok = BearerToken(v, "data.token")
	require.True(t, ok)
	assert.Equal(t, "Bearer abc", got)

	_, ok = BearerToken(v, "data.missing")
	assert.False(t, ok)

	v = decode(t, `{"data":{"token":12345}}`)
	_, ok = BearerToken(v, "data.token")
	assert.False(t, ok, "numeric leaf is not a credential")
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"   ",
		"a..b",
		"[name].id",
		"[name=John.id",
		"a.",
	} {
		_, err := Parse(expr)
		assert.Error(t, err, "expr %q", expr)
	}
}

func TestParseOK(t *testing.T) {
	for _, expr := range []string{
		"a",
		"a.b.c",
		"[k=v]",
		"[k=v].field",
		"a.[k=v].b",
	} {
		p, err := Parse(expr)
		require.NoError(t, err, "expr %q", expr)
		assert.Equal(t, expr, p.String())
	}
}
