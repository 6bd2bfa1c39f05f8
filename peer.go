package rudp

import (
	"net"
	"time"

	"golang.org/x/time/rate"
)

// Status is the Liveness FSM classification of a peer (spec.md §4.6).
type Status int

const (
	StatusAlive Status = iota
	StatusProbing
	StatusDegraded
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "Alive"
	case StatusProbing:
		return "Probing"
	case StatusDegraded:
		return "Degraded"
	case StatusDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// inflight is one in-flight record: a sent data packet not yet acknowledged
// and not yet given up on (spec.md §3 "In-flight record").
type inflight struct {
	buf       *Buffer
	firstSent time.Time
	deadline  time.Time
	retries   int
}

// ackCacheEntry records when an ACK was last emitted for a seq, so a
// re-arriving duplicate data packet can be answered without re-processing.
type ackCacheEntry struct {
	emittedAt time.Time
}

// gapWatch tracks an observed hole in the arriving sequence stream awaiting
// a NACK (spec.md §4.5 NACK policy).
type gapWatch struct {
	firstSeen  time.Time
	lastNackAt time.Time
	rounds     int
}

// peerState is all mutable state this transport keeps for one remote
// address. It is owned and mutated only by the single goroutine driving
// the Transport's public operations (spec.md §5): no internal locking.
type peerState struct {
	addr *net.UDPAddr

	// Send Engine.
	nextSeq  uint32
	inflight map[uint32]*inflight
	rtt      *rttEstimator

	// Receive Engine.
	seen       map[uint32]time.Time // seq -> accepted-at, for pruning
	ackCache   map[uint32]ackCacheEntry
	pendingAck []uint32
	pendingAt  time.Time
	lastSeen   uint32
	haveSeen   bool
	gaps       map[uint32]*gapWatch

	// Liveness FSM.
	status           Status
	lastActivity     time.Time
	pingSentAt       time.Time
	pingOutstanding  bool
	pingFailures     int
	retryExhaustions int
	pingLimiter      *rate.Limiter

	// Connection statistics (spec.md §3).
	sent            uint64
	received        uint64
	lost            uint64
	retransmissions uint64
	avgRTT          time.Duration
	lastRTTSample   time.Duration

	// closing tracks the graceful close handshake (spec.md §5).
	closing       bool
	closeSentAt   time.Time
	closeRetries  int

	// wrappedAt is set when the remote's inbound sequence stream wraps
	// back to 0 (detected in recv.go's detectInboundWrap, keyed off
	// lastSeen/seen — not our own outbound nextSeq, a fully independent
	// counter per spec.md §3), so the next cleanup pass applies the
	// longer ack-cache retention window (SPEC_FULL.md §8.4).
	wrappedAt time.Time
}

func newPeerState(addr *net.UDPAddr, cfg Config, now time.Time) *peerState {
	return &peerState{
		addr:         addr,
		inflight:     make(map[uint32]*inflight),
		rtt:          newRTTEstimator(cfg.InitialRTO, cfg.MinRTO, cfg.MaxRTO),
		seen:         make(map[uint32]time.Time),
		ackCache:     make(map[uint32]ackCacheEntry),
		gaps:         make(map[uint32]*gapWatch),
		status:       StatusAlive,
		lastActivity: now,
		pingLimiter:  rate.NewLimiter(rate.Every(cfg.PingRateLimit), 1),
	}
}

// Stats returns a snapshot of this peer's connection statistics.
func (p *peerState) Stats() ConnectionStats {
	return ConnectionStats{
		Sent:            p.sent,
		Received:        p.received,
		Lost:            p.lost,
		Retransmissions: p.retransmissions,
		AverageRTT:      p.avgRTT,
		LastActivity:    p.lastActivity,
		Status:          p.status,
	}
}

// ConnectionStats is the per-peer counter snapshot from spec.md §3.
type ConnectionStats struct {
	Sent            uint64
	Received        uint64
	Lost            uint64
	Retransmissions uint64
	AverageRTT      time.Duration
	LastActivity    time.Time
	Status          Status
}

// registry owns the peer address -> peerState map (spec.md §4.7). Like the
// rest of the engine it is mutated only by the single goroutine driving
// Transport's public operations (spec.md §5) and needs no internal lock.
type registry struct {
	peers map[string]*peerState
}

func newRegistry() *registry {
	return &registry{peers: make(map[string]*peerState)}
}

// getOrCreate returns the peerState for addr, lazily creating it on first
// send or first inbound packet (spec.md §4.7).
func (r *registry) getOrCreate(addr *net.UDPAddr, cfg Config, now time.Time) *peerState {
	key := addr.String()
	p, ok := r.peers[key]
	if !ok {
		p = newPeerState(addr, cfg, now)
		r.peers[key] = p
	}
	return p
}

// get returns the peerState for addr without creating one.
func (r *registry) get(addr *net.UDPAddr) (*peerState, bool) {
	p, ok := r.peers[addr.String()]
	return p, ok
}

// remove deletes addr's peerState, returning it for cleanup by the caller
// (e.g. releasing its in-flight buffers back to the pool).
func (r *registry) remove(addr *net.UDPAddr) *peerState {
	key := addr.String()
	p := r.peers[key]
	delete(r.peers, key)
	return p
}

// all returns every tracked peer. Callers must not mutate the slice's
// aliasing to the registry's internal map.
func (r *registry) all() []*peerState {
	out := make([]*peerState, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// cleanup runs the periodic Peer Registry GC pass (spec.md §4.7):
//   - peers idle longer than peerGCTimeout with no in-flight entries are
//     removed (their in-flight buffers, if any, are released by the
//     caller before this is invoked on them — there are none left here
//     by construction);
//   - ack-cache and seen-sequence entries older than the retention window
//     are pruned, using the wrap-extended window where applicable.
//
// It returns the peers that were removed, so the caller (Transport) can
// release their outstanding buffers and enqueue dead-peer notifications.
func (r *registry) cleanup(cfg Config, now time.Time) []*peerState {
	var removed []*peerState
	for key, p := range r.peers {
		retention := cfg.AckCacheRetention
		if !p.wrappedAt.IsZero() && now.Sub(p.wrappedAt) < cfg.AckCacheWrapRetention {
			retention = cfg.AckCacheWrapRetention
		}
		pruneOlderThan(p.ackCache, retention, now)
		pruneSeenOlderThan(p.seen, cfg.SeenSetRetention, now)

		if p.status == StatusDead || (now.Sub(p.lastActivity) > cfg.PeerGCTimeout && len(p.inflight) == 0) {
			delete(r.peers, key)
			removed = append(removed, p)
		}
	}
	return removed
}

func pruneOlderThan(cache map[uint32]ackCacheEntry, window time.Duration, now time.Time) {
	for seq, e := range cache {
		if now.Sub(e.emittedAt) > window {
			delete(cache, seq)
		}
	}
}

func pruneSeenOlderThan(seen map[uint32]time.Time, window time.Duration, now time.Time) {
	for seq, at := range seen {
		if now.Sub(at) > window {
			delete(seen, seq)
		}
	}
}
