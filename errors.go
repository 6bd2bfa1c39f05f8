package rudp

import "errors"

// Sentinel errors returned by the public surface of the transport. Callers
// should compare with errors.Is rather than switching on error strings.
var (
	// ErrMalformedPacket is returned by the codec when a header is shorter
	// than 9 bytes or its length fields are inconsistent with the datagram.
	ErrMalformedPacket = errors.New("rudp: malformed packet")

	// ErrIntegrityMismatch is returned by the codec when the computed
	// FNV-1a integrity code does not match the one carried on the wire.
	// The caller never sees this on the receive path: mismatched packets
	// are dropped silently per the wire contract, and reliability recovers
	// them via retransmission.
	ErrIntegrityMismatch = errors.New("rudp: integrity code mismatch")

	// ErrPayloadTooLarge is returned when a caller-supplied payload
	// exceeds the 1200-byte limit.
	ErrPayloadTooLarge = errors.New("rudp: payload exceeds 1200 bytes")

	// ErrPoolExhausted is returned by the buffer pool when no buffer is
	// free and the pool refuses to allocate beyond its configured cap.
	ErrPoolExhausted = errors.New("rudp: buffer pool exhausted")

	// ErrPeerDead is returned by Write/WriteBytes when the target peer's
	// liveness classification is Dead, and may also be carried by a
	// sentinel RBuffer handed back from PollRead.
	ErrPeerDead = errors.New("rudp: peer is dead")

	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("rudp: transport closed")
)
