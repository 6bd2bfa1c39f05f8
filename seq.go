package rudp

// seqBefore reports whether a precedes b on the 32-bit modular sequence
// ring (spec.md §4.4): a "before" b iff (b-a) mod 2^32 < 2^31.
func seqBefore(a, b uint32) bool {
	return (b-a) < 1<<31
}

// seqAfter reports whether a comes after b on the ring.
func seqAfter(a, b uint32) bool {
	return seqBefore(b, a)
}
