package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/roomwatch/internal/store"
)

// Envelope types.
const (
	TypeUpdate = "update"
	TypeDelete = "delete"
)

// ErrMalformedEnvelope wraps every envelope decoding failure.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one push-channel message.
type Envelope struct {
	Type         string
	ResourceType store.ResourceType
	ID           string
	Payload      map[string]any

	// ServerTime is the zero time when the server did not stamp the event.
	ServerTime time.Time
}

type rawEnvelope struct {
	Type         string          `json:"type"`
	ResourceType string          `json:"resourceType"`
	ID           json.RawMessage `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	ServerTime   json.RawMessage `json:"serverTime"`
}

// ParseEnvelope decodes and validates a push-channel message.
//
// id may be a JSON string or number. serverTime may be an RFC 3339 string or
// Unix milliseconds; it is optional. An update must carry a payload object.
// All failures wrap [ErrMalformedEnvelope].
func ParseEnvelope(data []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	env := Envelope{Type: raw.Type, ResourceType: store.ResourceType(raw.ResourceType)}

	if env.Type != TypeUpdate && env.Type != TypeDelete {
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, raw.Type)
	}
	if !env.ResourceType.Valid() {
		return Envelope{}, fmt.Errorf("%w: unknown resourceType %q", ErrMalformedEnvelope, raw.ResourceType)
	}

	id, err := decodeID(raw.ID)
	if err != nil {
		return Envelope{}, err
	}
	env.ID = id

	if isPresent(raw.Payload) {
		dec := json.NewDecoder(bytes.NewReader(raw.Payload))
		dec.UseNumber()
		if err := dec.Decode(&env.Payload); err != nil {
			return Envelope{}, fmt.Errorf("%w: payload is not an object", ErrMalformedEnvelope)
		}
	}
	if env.Type == TypeUpdate && env.Payload == nil {
		return Envelope{}, fmt.Errorf("%w: update without payload", ErrMalformedEnvelope)
	}

	if isPresent(raw.ServerTime) {
		ts, err := decodeServerTime(raw.ServerTime)
		if err != nil {
			return Envelope{}, err
		}
		env.ServerTime = ts
	}

	return env, nil
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeID(raw json.RawMessage) (string, error) {
	if !isPresent(raw) {
		return "", fmt.Errorf("%w: missing id", ErrMalformedEnvelope)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", fmt.Errorf("%w: empty id", ErrMalformedEnvelope)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: id must be a string or number", ErrMalformedEnvelope)
}

func decodeServerTime(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: serverTime: %v", ErrMalformedEnvelope, err)
		}
		return ts, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		ms, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: serverTime must be integer milliseconds", ErrMalformedEnvelope)
		}
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("%w: serverTime must be a string or number", ErrMalformedEnvelope)
}
