// Package binary replaces the encoding/binary package in the standard
// library with generic Put/Get helpers parameterized over byte order, so one
// set of helpers serves both the module's own big-endian wire format and any
// little-endian consumer.
package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/constraints"
)

// Get reads any integer size from b using order.
func Get[T constraints.Integer](order binary.ByteOrder, b []byte) T {
	_ = b[len(b)-1] // bounds check hint to compiler; see golang.org/issue/14808

	var r T // This is only used for type detection.
	switch any(r).(type) {
	case int8, uint8:
		return T(b[0])
	case int16, uint16:
		return T(order.Uint16(b))
	case int32, uint32:
		return T(order.Uint32(b))
	case int64, uint64:
		return T(order.Uint64(b))
	}
	panic(fmt.Sprintf("unsupported type that passed the type constraint %T", r))
}

// Put writes any integer size into b using order.
func Put[T constraints.Integer](order binary.ByteOrder, b []byte, v T) {
	switch any(v).(type) {
	case int8, uint8:
		b[0] = byte(v)
		return
	case int16, uint16:
		order.PutUint16(b, uint16(v))
		return
	case int32, uint32:
		order.PutUint32(b, uint32(v))
		return
	}
	order.PutUint64(b, uint64(v))
}

// PutBuffer encodes an integer into the passed Buffer using order.
func PutBuffer[T constraints.Integer](order binary.ByteOrder, buff *bytes.Buffer, v T) error {
	var b []byte
	switch any(v).(type) {
	case int8, uint8:
		b = make([]byte, 1)
	case int16, uint16:
		b = make([]byte, 2)
	case int32, uint32:
		b = make([]byte, 4)
	default:
		b = make([]byte, 8)
	}

	Put(order, b, v)
	_, err := buff.Write(b)
	return err
}
