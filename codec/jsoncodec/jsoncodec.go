// Package jsoncodec implements codec.Codec using encoding/json. No pack
// example reaches for a third-party JSON library, so stdlib is the
// teacher-idiomatic choice at this layer (see DESIGN.md).
package jsoncodec

import "encoding/json"

// Codec is a codec.Codec backed by encoding/json.
type Codec struct{}

// New returns a JSON codec.
func New() Codec { return Codec{} }

func (Codec) Name() string { return "json" }

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}
