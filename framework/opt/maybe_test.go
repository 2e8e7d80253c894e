package opt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNone(t *testing.T) {
	assert.False(t, None[string]().IsDefined())

	assert.Equal(t, 0, None[int]().Value())
	assert.Equal(t, "", None[string]().Value())
}

func TestSome(t *testing.T) {
	assert.True(t, Some("").IsDefined())

	assert.Equal(t, 1, Some(1).Value())
	assert.Equal(t, "x", Some("x").Value())
}

func TestOrElse(t *testing.T) {
	assert.Equal(t, 3, None[int]().OrElse(3))
	assert.Equal(t, 4, Some(4).OrElse(3))
}

func TestString(t *testing.T) {
	assert.Equal(t, "[none]", None[float64]().String())
	assert.Equal(t, "1.5", Some(1.5).String())
}

func TestMarshalJSON(t *testing.T) {
	data, err := json.Marshal(None[int]())
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(data))

	data, err = json.Marshal(Some(3))
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(data))
}
