package domain

import (
	"bytes"
	"encoding/json"
)

// Optional is one field of a partial update.
//
// Present is false when the key was absent from the payload. Valid is false when the key was
// present with an explicit null, which clears nullable fields.
type Optional[T any] struct {
	Present bool
	Valid   bool
	Value   T
}

// IsNull reports whether the field was supplied as null.
func (o Optional[T]) IsNull() bool {
	return o.Present && !o.Valid
}

// Ptr returns nil for an absent or null value, otherwise a pointer to a copy of the value.
func (o Optional[T]) Ptr() *T {
	if !o.Present || !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// UnmarshalJSON marks the field present and decodes null or a value.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.Valid = false
		o.Value = zero
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// MarshalJSON renders null for absent or null values.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Present || !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}
