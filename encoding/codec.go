package encoding

import (
	"encoding/json"
	"fmt"
)

// Format names accepted in configuration
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Codec encodes and decodes bus frames in one wire format
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return FormatJSON }
func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string        { return FormatMsgpack }
func (msgpackCodec) ContentType() string { return "application/msgpack" }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return Unmarshal(data, v)
}

// ForFormat returns the codec for a configured format name. An empty name selects JSON.
func ForFormat(name string) (Codec, error) {
	switch name {
	case "", FormatJSON:
		return jsonCodec{}, nil
	case FormatMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding format: %q", name)
	}
}

// ForContentType returns the codec matching a frame's content type header, defaulting to JSON
func ForContentType(contentType string) Codec {
	if contentType == (msgpackCodec{}).ContentType() {
		return msgpackCodec{}
	}
	return jsonCodec{}
}
