// Package compute defines the device abstraction shared by the cpu and webgpu
// backends: element types, kernels, programs, buffers, launches and events.
package compute

import (
	"math"
	"strings"
	"unsafe"

	"github.com/hyp3rd/ewrap"
)

// Element is the constraint for working numeric types a device can reduce.
type Element interface {
	float32 | int32
}

// DataType is the runtime tag of an Element.
type DataType int

// Supported working types.
const (
	Float32 DataType = iota
	Int32
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// ParseDataType maps a name ("float32", "f32", "int32", "i32") to a DataType.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "float32", "f32", "float":
		return Float32, nil
	case "int32", "i32", "int":
		return Int32, nil
	default:
		return 0, ewrap.Wrap(ErrUnsupportedDataType, name)
	}
}

// DataTypeOf returns the runtime tag for T.
func DataTypeOf[T Element]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case int32:
		return Int32
	default:
		panic("unsupported type")
	}
}

// Bits returns the 32-bit little-endian representation of v as stored in
// device memory.
func Bits[T Element](v T) uint32 {
	switch x := any(v).(type) {
	case float32:
		return math.Float32bits(x)
	case int32:
		return uint32(x) //nolint:gosec // G115: bit reinterpretation
	default:
		panic("unsupported type")
	}
}

// FromBits is the inverse of Bits.
func FromBits[T Element](u uint32) T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return any(math.Float32frombits(u)).(T)
	case int32:
		return any(int32(u)).(T) //nolint:gosec // G115: bit reinterpretation
	default:
		panic("unsupported type")
	}
}

// Bytes reinterprets s as its backing bytes without copying.
func Bytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy conversion
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}

// View reinterprets b as a slice of T without copying. len(b) must be a
// multiple of 4.
func View[T Element](b []byte) []T {
	if len(b) < 4 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy conversion
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/4)
}
