// Package codec defines the serialization contract (C.. "IRpcCodec") that
// the core engine treats as opaque bytes (spec §6.2).
package codec

// Codec marshals and unmarshals values of a single Go type. The engine
// never inspects message contents; it only moves bytes between codec calls.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}
