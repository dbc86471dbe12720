package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Codec encodes server->client messages for one session.
type Codec interface {
	Name() string
	// Binary reports whether frames must be sent as binary websocket messages.
	Binary() bool
	Encode(v any) ([]byte, error)
}

// CodecFor returns the codec negotiated in HELLO. Empty selects JSON.
func CodecFor(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingJSON:
		return JSONCodec{}, nil
	case EncodingMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

type JSONCodec struct{}

func (JSONCodec) Name() string                 { return EncodingJSON }
func (JSONCodec) Binary() bool                 { return false }
func (JSONCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

// MsgpackCodec reuses the json struct tags so both encodings share field names.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return EncodingMsgpack }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMsgpack is the client-side counterpart of MsgpackCodec.
func DecodeMsgpack(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
