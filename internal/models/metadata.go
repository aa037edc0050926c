package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// metadataVersion is the envelope version written by Encode
const metadataVersion = 1

// Metadata is a flat mapping from string keys to primitive values
// (string, float64 or bool). Nested values are not representable.
type Metadata map[string]any

type metadataEnvelope struct {
	V      int                        `json:"v"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// MetadataFromJSON builds Metadata from an arbitrary JSON value. Anything that
// is not an object yields nil; non-primitive members are dropped.
func MetadataFromJSON(raw json.RawMessage) Metadata {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fromFields(fields)
}

func fromFields(fields map[string]json.RawMessage) Metadata {
	md := make(Metadata, len(fields))
	for k, v := range fields {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		switch val.(type) {
		case string, float64, bool:
			md[k] = val
		}
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// Encode renders the versioned envelope stored in the database. The second
// return value is false when there is nothing to store.
func (m Metadata) Encode() (string, bool) {
	if len(m) == 0 {
		return "", false
	}
	fields := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, float64, bool:
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return "", false
	}
	b, err := json.Marshal(map[string]any{"v": metadataVersion, "fields": fields})
	if err != nil {
		return "", false
	}
	return string(b), true
}

// DecodeMetadata parses a stored payload. It accepts the versioned envelope
// and a bare JSON object written by older clients. Malformed input decodes to
// nil instead of failing.
func DecodeMetadata(s string) Metadata {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal([]byte(s), &env); err == nil && env.V > 0 && env.Fields != nil {
		return fromFields(env.Fields)
	}
	return MetadataFromJSON(json.RawMessage(s))
}

// Float returns the numeric value stored under key. Numeric strings are accepted.
func (m Metadata) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Has reports whether key is present
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}
