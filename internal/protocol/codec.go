// Package protocol defines the request/reply envelopes exchanged between
// requesters and worker nodes, and their wire encoding.
//
// Every polymorphic JSON object carries an "@type" discriminator. Decoding
// maps discriminators to concrete Go types through a fixed registry, so the
// set of message and source-option kinds is closed at compile time.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const typeField = "@type"

const (
	TypeHashRequest           = "hash.request"
	TypeHashReply             = "hash.reply"
	TypeTransformationRequest = "transformation.request"
	TypeTransformationReply   = "transformation.reply"
	TypeHeartbeat             = "heartbeat"
)

var (
	ErrNoObject       = errors.New("message body contains no JSON object")
	ErrMissingType    = errors.New("message has no " + typeField + " discriminator")
	ErrUnknownType    = errors.New("unknown message type")
	ErrUnexpectedType = errors.New("unexpected message type")
)

// Message is anything that travels as a message body.
type Message interface {
	MessageType() string
}

var messages = map[string]func() Message{
	TypeHashRequest:           func() Message { return &HashRequest{} },
	TypeHashReply:             func() Message { return &HashReply{} },
	TypeTransformationRequest: func() Message { return &TransformationRequest{} },
	TypeTransformationReply:   func() Message { return &TransformationReply{} },
	TypeHeartbeat:             func() Message { return &Heartbeat{} },
}

// Encode serializes m with its type discriminator.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return tagged(m.MessageType(), body)
}

// Decode parses a message body produced by Encode. Bytes before the first
// '{' are discarded; some transports prepend framing garbage to the payload.
func Decode(data []byte) (Message, error) {
	obj, err := trimToObject(data)
	if err != nil {
		return nil, err
	}
	tag, err := peekType(obj)
	if err != nil {
		return nil, err
	}
	factory, ok := messages[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
	m := factory()
	if err := json.Unmarshal(obj, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	return m, nil
}

// DecodeAs decodes data and asserts the result is a T.
func DecodeAs[T Message](data []byte) (T, error) {
	var zero T
	m, err := Decode(data)
	if err != nil {
		return zero, err
	}
	t, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %s", ErrUnexpectedType, m.MessageType())
	}
	return t, nil
}

func trimToObject(data []byte) ([]byte, error) {
	i := bytes.IndexByte(data, '{')
	if i < 0 {
		return nil, ErrNoObject
	}
	return data[i:], nil
}

func peekType(obj []byte) (string, error) {
	var head struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(obj, &head); err != nil {
		return "", fmt.Errorf("read discriminator: %w", err)
	}
	if head.Type == "" {
		return "", ErrMissingType
	}
	return head.Type, nil
}

// tagged prepends the discriminator to a marshalled JSON object.
func tagged(tag string, body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%s does not encode to a JSON object", tag)
	}
	name, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(name)+len(typeField)+4)
	out = append(out, `{"`+typeField+`":`...)
	out = append(out, name...)
	if !bytes.Equal(bytes.TrimSpace(body[1:]), []byte("}")) {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}
