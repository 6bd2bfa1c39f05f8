package rudp

import "time"

// Config holds the recognized transport options from spec.md §6. A zero
// Config is not valid; use DefaultConfig and override selectively, mirroring
// the teacher's NewServer(host, port, maxPlayers) defaults-then-override
// constructor pattern.
type Config struct {
	// MaxRetries is the retry count before a sequence is declared lost.
	MaxRetries int

	// InitialRTO, MinRTO, MaxRTO bound the per-peer retransmission timer.
	InitialRTO time.Duration
	MinRTO     time.Duration
	MaxRTO     time.Duration

	// IdleTimeout is the Alive -> Probing threshold.
	IdleTimeout time.Duration

	// PeerGCTimeout is the inactivity threshold after which an idle peer
	// with no in-flight entries is removed.
	PeerGCTimeout time.Duration

	// AckBatchFlushInterval bounds how long a seq can sit in the pending
	// ACK batch before it is flushed unconditionally.
	AckBatchFlushInterval time.Duration

	// AckBatchMaxSeqs caps the number of sequences batched into one ACK
	// datagram (spec.md §4.5 recommends 64 to avoid outsized datagrams).
	AckBatchMaxSeqs int

	// PoolInitialCapacity / PoolMaxCapacity configure the buffer pool a
	// Transport creates when none is passed in. BufferSize records the fixed
	// 1409-byte buffer size; the pool does not read it.
	PoolInitialCapacity int
	PoolMaxCapacity     int
	BufferSize          int

	// CleanupInterval is the minimum spacing between Peer Registry GC
	// passes inside Tick (spec.md §4.8 recommends >= 1s).
	CleanupInterval time.Duration

	// SeenSetRetention / AckCacheRetention / AckCacheWrapRetention are the
	// pruning windows from spec.md §3/§9: the generic 60s window, and the
	// 1h window applied on sequence wrap (the longer of the two always
	// wins for a peer that just wrapped, per the unified policy in
	// SPEC_FULL.md §8.4).
	SeenSetRetention      time.Duration
	AckCacheRetention     time.Duration
	AckCacheWrapRetention time.Duration

	// NackGapThresholdFactor is the multiple of current RTO that a gap in
	// arriving sequences must persist for before a NACK is emitted
	// (spec.md §4.5: 1.5 * RTO).
	NackGapThresholdFactor float64

	// NackMaxRetransmitRounds caps how many times a NACK is re-emitted for
	// the same gap before liveness probing takes over.
	NackMaxRetransmitRounds int

	// PingRateLimit bounds how often a peer is re-pinged while Probing and
	// how often a NACK-gap exhaustion may force a probe ping
	// (golang.org/x/time/rate). The first ping sent on entering Probing
	// after an idle timeout is not rate limited.
	PingRateLimit time.Duration

	// MaxPingFailures is the consecutive ping-failure count after which a
	// Probing peer is declared Dead.
	MaxPingFailures int
}

// DefaultConfig returns the configuration spec.md §6 names as defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:              5,
		InitialRTO:              200 * time.Millisecond,
		MinRTO:                  200 * time.Millisecond,
		MaxRTO:                  3 * time.Second,
		IdleTimeout:             30 * time.Second,
		PeerGCTimeout:           300 * time.Second,
		AckBatchFlushInterval:   50 * time.Millisecond,
		AckBatchMaxSeqs:         64,
		PoolInitialCapacity:     500,
		PoolMaxCapacity:         200_000,
		BufferSize:              headerSize + maxBufferPayload,
		CleanupInterval:         1 * time.Second,
		SeenSetRetention:        60 * time.Second,
		AckCacheRetention:       60 * time.Second,
		AckCacheWrapRetention:   time.Hour,
		NackGapThresholdFactor:  1.5,
		NackMaxRetransmitRounds: 3,
		PingRateLimit:           30 * time.Second,
		MaxPingFailures:         3,
	}
}
