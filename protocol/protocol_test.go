package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeCBOR,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Equal(t, HeaderSize+len(body), buf.Len())

	decodedHeader, decodedBody, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, header.CodecType, decodedHeader.CodecType)
	assert.Equal(t, header.MsgType, decodedHeader.MsgType)
	assert.Equal(t, header.Seq, decodedHeader.Seq)
	// BodyLen is always taken from the body actually written.
	assert.Equal(t, uint32(len(body)), decodedHeader.BodyLen)
	assert.Equal(t, body, decodedBody)
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{'m', 'r', 'p', Version, CodecTypeJSON, byte(MsgTypeRequest), 0x00, 0x00, 0x30, 0x39, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)
	assert.Contains(t, err.Error(), "magic number")
}

func TestDecodeEmptyBody(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeHeartbeat,
		Seq:       12345,
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, nil))

	decodedHeader, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeHeartbeat, decodedHeader.MsgType)
	assert.Zero(t, decodedHeader.BodyLen)
	assert.Empty(t, decodedBody)
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{
		0xFF,
		CodecTypeJSON,
		byte(MsgTypeRequest),
		0, 0, 0, 1,
		0, 0, 0, 0,
	})

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotSupported), "got %v", err)
	assert.Contains(t, err.Error(), "protocol version 255")
}

func TestDecodeUnknownCodec(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{
		Version,
		0x07,
		byte(MsgTypeRequest),
		0, 0, 0, 1,
		0, 0, 0, 0,
	})

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec type 7")
}

func TestDecodeOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{
		Version,
		CodecTypeCBOR,
		byte(MsgTypeRequest),
		0, 0, 0, 1,
		0xFF, 0xFF, 0xFF, 0xFF,
	})

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeResponse, Seq: 3}, []byte("abcdef")))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])

	_, _, err := Decode(truncated)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
}

func TestDecodeCleanEOF(t *testing.T) {
	_, _, err := Decode(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{
		CodecType: CodecTypeCBOR,
		MsgType:   MsgTypeRequest,
		Seq:       999,
	}
	require.NoError(t, Encode(&buf, header, largeBody))

	_, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(decodedBody, largeBody), "large body mismatch")
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	err := Encode(io.Discard, &Header{}, make([]byte, MaxBodyLen+1))
	require.Error(t, err)
}

func TestDecodeUnknownMessageType(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{Version, CodecTypeJSON, 0x09, 0, 0, 0, 1, 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message type 9")
}
