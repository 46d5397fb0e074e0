package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json. Human-readable and handy when poking the
// socket by hand; numbers decode into float64 when the target is untyped.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
