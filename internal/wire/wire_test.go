// File: internal/wire/wire_test.go
package wire_test

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greasewire/greasewire/internal/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	in := &wire.Envelope{
		Type:      wire.TypeRegisterMenuCommand,
		ScriptID:  "s1",
		CommandID: "c1",
		Name:      "Clear cache",
		AccessKey: "c",
	}
	raw, err := wire.Encode(in)
	require.NoError(t, err)

	out, err := wire.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRejectsGarbageAndMissingType(t *testing.T) {
	t.Parallel()

	_, err := wire.Decode("{not json")
	assert.Error(t, err)

	_, err = wire.Decode(`{"scriptId":"s1"}`)
	assert.Error(t, err, "a typeless envelope cannot be dispatched")
}

func TestDecodeKeepsUnknownTypes(t *testing.T) {
	t.Parallel()

	// Unknown types decode fine; the dispatcher decides to ignore them.
	e, err := wire.Decode(`{"type":"future-feature","scriptId":"s1"}`)
	require.NoError(t, err)
	assert.Equal(t, wire.MessageType("future-feature"), e.Type)
	assert.False(t, wire.Known(e.Type))
	assert.True(t, wire.Known(wire.TypeStorageGet))
}

func TestStorageValuePreservesRawJSON(t *testing.T) {
	t.Parallel()

	// The host must not re-interpret script values: 1e2 stays 1e2.
	raw := `{"type":"storage-set","scriptId":"s1","key":"count","value":1e2}`
	e, err := wire.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "1e2", string(e.Value))

	reEncoded, err := wire.Encode(e)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, jsoniter.UnmarshalFromString(reEncoded, &back))
	assert.Equal(t, float64(100), back["value"])
}

func TestXHREnvelope(t *testing.T) {
	t.Parallel()

	in := &wire.Envelope{
		Type:      wire.TypeXHRRequest,
		ScriptID:  "s1",
		RequestID: "r1",
		XHR: &wire.XHRRequest{
			Method:    "POST",
			URL:       "https://api.example.com/v1",
			Headers:   map[string]string{"Content-Type": "application/json"},
			Data:      `{"a":1}`,
			TimeoutMS: 5000,
		},
	}
	raw, err := wire.Encode(in)
	require.NoError(t, err)
	out, err := wire.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, out.XHR)
	assert.Equal(t, in.XHR, out.XHR)
}
