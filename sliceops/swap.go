// Package sliceops has byte order helpers for converting between the
// little-endian HCI wire order and the big-endian order used by AES.
package sliceops

// SwapBuf returns a reversed copy of in.
func SwapBuf(in []byte) []byte {
	a := make([]byte, 0, len(in))
	a = append(a, in...)
	for i := len(a)/2 - 1; i >= 0; i-- {
		opp := len(a) - 1 - i
		a[i], a[opp] = a[opp], a[i]
	}

	return a
}

// PadLE copies in to a zeroed buffer of n bytes, keeping in at the low
// (little-endian least significant) end. Extra input bytes are dropped.
func PadLE(in []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, in)
	return out
}
