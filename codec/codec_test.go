package codec

import (
	"testing"

	"conn-proxy/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResponse() *message.Response {
	return &message.Response{
		Method: "get_user",
		Result: map[string]any{
			"login":      "octocat",
			"site_admin": false,
			"plan":       nil,
			"orgs":       []any{"github", "ansible"},
			"counts":     map[string]any{"repos": 8},
		},
		Messages: []message.LogMessage{{Tag: "vvv", Text: "invoking get_user"}},
	}
}

func TestJSONCodec(t *testing.T) {
	jsonCodec := GetCodec(CodecTypeJSON)
	assert.Equal(t, CodecTypeJSON, jsonCodec.Type())

	data, err := jsonCodec.Encode(sampleResponse())
	require.NoError(t, err)

	var decoded message.Response
	require.NoError(t, jsonCodec.Decode(data, &decoded))

	result, ok := decoded.Result.(map[string]any)
	require.True(t, ok, "result decoded as %T", decoded.Result)
	assert.Equal(t, "octocat", result["login"])
	assert.Equal(t, false, result["site_admin"])
	assert.Nil(t, result["plan"])
	assert.Equal(t, []any{"github", "ansible"}, result["orgs"])
	assert.Equal(t, map[string]any{"repos": float64(8)}, result["counts"])
	assert.Equal(t, sampleResponse().Messages, decoded.Messages)
}

func TestCBORCodec(t *testing.T) {
	cborCodec := GetCodec(CodecTypeCBOR)
	assert.Equal(t, CodecTypeCBOR, cborCodec.Type())

	data, err := cborCodec.Encode(sampleResponse())
	require.NoError(t, err)

	var decoded message.Response
	require.NoError(t, cborCodec.Decode(data, &decoded))

	result, ok := decoded.Result.(map[string]any)
	require.True(t, ok, "result decoded as %T", decoded.Result)
	assert.Equal(t, "octocat", result["login"])
	assert.Nil(t, result["plan"])
	assert.Equal(t, []any{"github", "ansible"}, result["orgs"])
	// Nested maps keep string keys and integers stay integers.
	assert.Equal(t, map[string]any{"repos": uint64(8)}, result["counts"])
}

func TestCBORDeterministic(t *testing.T) {
	cborCodec := &CBORCodec{}
	first, err := cborCodec.Encode(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	second, err := cborCodec.Encode(map[string]any{"c": 3, "a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRequestArgumentsSurvive(t *testing.T) {
	req := &message.Request{
		Method: "org_repos",
		Args:   []any{"x", int64(-4), 2.5, true, nil},
		Kwargs: map[string]any{"org": "x"},
	}
	for _, c := range []Codec{&JSONCodec{}, &CBORCodec{}} {
		data, err := c.Encode(req)
		require.NoError(t, err)

		var decoded message.Request
		require.NoError(t, c.Decode(data, &decoded), c.Type().String())
		assert.Equal(t, "org_repos", decoded.Method)
		require.Len(t, decoded.Args, 5)
		assert.Equal(t, "x", decoded.Args[0])
		assert.EqualValues(t, -4, decoded.Args[1])
		assert.Equal(t, 2.5, decoded.Args[2])
		assert.Equal(t, true, decoded.Args[3])
		assert.Nil(t, decoded.Args[4])
		assert.Equal(t, map[string]any{"org": "x"}, decoded.Kwargs)
	}
}

func TestParseCodecType(t *testing.T) {
	ct, err := ParseCodecType("JSON")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSON, ct)

	ct, err = ParseCodecType("")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeCBOR, ct)

	_, err = ParseCodecType("gob")
	assert.Error(t, err)
}
