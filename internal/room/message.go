package room

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Encoding tags the payload carried by a Message.
type Encoding string

const (
	EncodingText   Encoding = "text"
	EncodingJSON   Encoding = "json"
	EncodingBinary Encoding = "binary"

	// EncodingAny registers a receive hook that catches messages no other
	// chain accepted.
	EncodingAny Encoding = "*"
)

// Valid reports whether e is one of the known tags.
func (e Encoding) Valid() bool {
	switch e {
	case EncodingText, EncodingJSON, EncodingBinary, EncodingAny:
		return true
	}
	return false
}

// Message is the envelope exchanged with a Conn. Payload holds the raw bytes;
// Value is filled in once the message has been decoded for a receive chain
// (string for text, []byte for binary, the unmarshalled value for json).
type Message struct {
	Encoding Encoding
	Payload  []byte
	Value    any
}

// TextMessage builds a text envelope.
func TextMessage(s string) Message {
	return Message{Encoding: EncodingText, Payload: []byte(s), Value: s}
}

// BinaryMessage builds a binary envelope.
func BinaryMessage(b []byte) Message {
	return Message{Encoding: EncodingBinary, Payload: b, Value: b}
}

// JSONMessage marshals v into a json envelope.
func JSONMessage(v any) (Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode json message: %w", err)
	}
	return Message{Encoding: EncodingJSON, Payload: payload, Value: v}, nil
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Payload)
}

// Decode unmarshals a json payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// decodeAs returns a copy of m re-tagged as enc with Value populated.
func (m Message) decodeAs(enc Encoding) (Message, error) {
	out := Message{Encoding: enc, Payload: m.Payload}
	switch enc {
	case EncodingText:
		out.Value = string(m.Payload)
	case EncodingBinary:
		out.Value = m.Payload
	case EncodingJSON:
		var v any
		if err := json.Unmarshal(m.Payload, &v); err != nil {
			return Message{}, fmt.Errorf("decode %s payload as json: %w", m.Encoding, err)
		}
		out.Value = v
	default:
		out.Encoding = m.Encoding
		out.Value = m.Value
		if out.Value == nil {
			out.Value = m.Payload
		}
	}
	return out, nil
}
