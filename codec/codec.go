// Package codec serializes message records for the frame body.
//
// The codec byte travels in every frame header, so a response is always
// encoded with the same codec as the request it answers.
package codec

import (
	"strings"

	"github.com/juju/errors"
)

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeCBOR CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=CBOR
}

var (
	jsonCodec = &JSONCodec{}
	cborCodec = &CBORCodec{}
)

// GetCodec returns the codec for codecType. Unknown types fall back to CBOR.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return jsonCodec
	}
	return cborCodec
}

// ParseCodecType maps a configuration name ("json" or "cbor") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return CodecTypeJSON, nil
	case "cbor", "":
		return CodecTypeCBOR, nil
	}
	return 0, errors.NotValidf("codec %q", name)
}

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "cbor"
}
