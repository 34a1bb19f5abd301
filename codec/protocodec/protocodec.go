// Package protocodec implements codec.Codec using google.golang.org/protobuf,
// for services whose request/response types are generated protobuf messages.
package protocodec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec is a codec.Codec backed by google.golang.org/protobuf.
type Codec struct{}

// New returns a protobuf codec.
func New() Codec { return Codec{} }

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protocodec: %T does not implement proto.Message", v)
	}
	return proto.Marshal(m)
}

func (Codec) Unmarshal(b []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("protocodec: %T does not implement proto.Message", v)
	}
	return proto.Unmarshal(b, m)
}
