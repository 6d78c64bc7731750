package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is one protocol message as it appears on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	TS      int64           `json:"ts"`
	Nonce   string          `json:"nonce"`
	Payload json.RawMessage `json:"payload"`
	Sig     string          `json:"sig"`
}

var emptyObject = json.RawMessage(`{}`)

// ErrEmptyType is returned when building or parsing an envelope without a type.
var ErrEmptyType = errors.New("envelope type is required")

// ParseError describes an inbound frame that could not be decoded.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed envelope: %s: %v", e.Reason, e.Err)
	}
	return "malformed envelope: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Build creates an envelope stamped with the current time and a fresh nonce.
// A nil payload is encoded as an empty object. The signature is left empty;
// the session fills it when the envelope is sent.
func Build(msgType, from, to string, payload interface{}) (*Envelope, error) {
	if msgType == "" {
		return nil, ErrEmptyType
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Type:    msgType,
		From:    from,
		To:      to,
		Payload: raw,
	}
	if err := Stamp(env, time.Now()); err != nil {
		return nil, err
	}
	return env, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(p) == 0 {
			return emptyObject, nil
		}
		return p, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	if bytes.Equal(data, []byte("null")) {
		return emptyObject, nil
	}
	return data, nil
}

// Stamp sets the timestamp to now and fills the nonce when it is missing.
// A nonce supplied by the caller is never replaced.
func Stamp(env *Envelope, now time.Time) error {
	env.TS = now.Unix()
	if env.Nonce == "" {
		nonce, err := NewNonce()
		if err != nil {
			return err
		}
		env.Nonce = nonce
	}
	if len(env.Payload) == 0 {
		env.Payload = emptyObject
	}
	return nil
}

// Marshal encodes env as a single JSON object.
func Marshal(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}
	if env.Type == "" {
		return nil, ErrEmptyType
	}
	out := *env
	if len(out.Payload) == 0 {
		out.Payload = emptyObject
	}
	return json.Marshal(&out)
}

// Parse decodes one frame. Any failure is reported as *ParseError.
func Parse(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: "empty frame"}
	}
	if trimmed[0] != '{' {
		return nil, &ParseError{Reason: "frame is not a JSON object"}
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	if env.Type == "" {
		return nil, &ParseError{Reason: "missing type", Err: ErrEmptyType}
	}

	payload := bytes.TrimSpace(env.Payload)
	switch {
	case len(payload) == 0, bytes.Equal(payload, []byte("null")):
		env.Payload = emptyObject
	case payload[0] != '{':
		return nil, &ParseError{Reason: "payload is not a JSON object"}
	}

	return &env, nil
}

// DecodePayload decodes the payload of env into T.
func DecodePayload[T any](env *Envelope) (T, error) {
	var out T
	raw := env.Payload
	if len(raw) == 0 {
		raw = emptyObject
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return out, nil
}

// Time returns the envelope timestamp.
func (e *Envelope) Time() time.Time {
	return time.Unix(e.TS, 0)
}

// IsBroadcast reports whether the envelope addresses the public channel.
func (e *Envelope) IsBroadcast() bool {
	return IsBroadcast(e.To)
}
