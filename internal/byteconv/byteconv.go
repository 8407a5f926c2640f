// Package byteconv provides zero-allocation byte/string conversions for
// the request-parsing hot path, adapted from internal/unsafe (which used
// the now-deprecated reflect.StringHeader/SliceHeader pair; this version
// uses the unsafe.String/unsafe.Slice builtins Go 1.20+ provides for the
// same conversion).
package byteconv

import "unsafe"

// B2S converts b to a string without copying. The returned string must
// not outlive b, and b must not be mutated afterward — it aliases the
// same backing array.
func B2S(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// S2B converts s to a byte slice without copying. The returned slice
// must not be mutated — it aliases s's backing array, and Go strings are
// immutable.
func S2B(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
