package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Chat  string            `cbor:"chat"`
	IDs   []string          `cbor:"ids"`
	Extra map[string]string `cbor:"extra,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	v := sample{Chat: "123@s.whatsapp.net", Extra: map[string]string{"b": "2", "a": "1", "c": "3"}}

	first, err := Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(sample{Chat: "a", IDs: []string{"1"}}))
	require.NoError(t, enc.Encode(sample{Chat: "b", IDs: []string{"2", "3"}}))

	dec := NewDecoder(&buf)
	var got []sample
	for i := 0; i < 2; i++ {
		var s sample
		require.NoError(t, dec.Decode(&s))
		got = append(got, s)
	}
	assert.Equal(t, []string{"a", "b"}, []string{got[0].Chat, got[1].Chat})
	assert.Equal(t, []string{"2", "3"}, got[1].IDs)
}

func TestUnmarshalAnyMapUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"k": map[string]any{"nested": 1}})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok, "got %T", out)
	_, ok = m["k"].(map[string]any)
	assert.True(t, ok)
}
