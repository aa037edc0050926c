package models

import (
	"bytes"
	"encoding/json"
)

// Optional tracks whether a JSON field was present at all. Set is true when
// the key appeared; Value is nil when it appeared as null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a present, non-null Optional
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a present Optional holding null
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// UnmarshalJSON implements json.Unmarshaler
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// MarshalJSON implements json.Marshaler
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}
