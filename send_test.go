package rudp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func testPeer(cfg Config) *peerState {
	return newPeerState(testAddr(), cfg, time.Now())
}

func TestAcceptWriteAssignsIncrementingSeqs(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	pool := NewPool(4, 4)
	now := time.Now()

	b1, _ := pool.Acquire()
	seq1 := acceptWrite(p, b1, now)
	b2, _ := pool.Acquire()
	seq2 := acceptWrite(p, b2, now)

	assert.EqualValues(t, 0, seq1)
	assert.EqualValues(t, 1, seq2)
	assert.Len(t, p.inflight, 2)
	assert.EqualValues(t, 2, p.sent)
}

func TestAcceptWriteWrapsNextSeqWithoutTouchingWrappedAt(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	p.nextSeq = 0xFFFFFFFF
	pool := NewPool(1, 1)
	now := time.Now()

	b, _ := pool.Acquire()
	acceptWrite(p, b, now)
	assert.EqualValues(t, 0, p.nextSeq)
	// Our own outbound counter wrapping is independent of the remote's
	// inbound sequence stream (spec.md §3): wrappedAt is driven solely by
	// detectInboundWrap in recv.go, never by acceptWrite.
	assert.True(t, p.wrappedAt.IsZero())
}

func TestExpiredDeadlinesOnlyReturnsPastDue(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	pool := NewPool(2, 2)
	now := time.Now()

	b1, _ := pool.Acquire()
	acceptWrite(p, b1, now.Add(-time.Hour)) // long-past deadline
	b2, _ := pool.Acquire()
	acceptWrite(p, b2, now) // fresh, not yet due

	due := expiredDeadlines(p, now)
	assert.Len(t, due, 1)
	assert.EqualValues(t, 0, due[0])
}

func TestRetransmitDeadlineRetriesThenDrops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	p := testPeer(cfg)
	pool := NewPool(1, 1)
	now := time.Now()

	b, _ := pool.Acquire()
	acceptWrite(p, b, now)

	out1 := retransmitDeadline(p, 0, cfg.MaxRetries, now)
	require.False(t, out1.dropped)
	require.NotNil(t, out1.buf)
	assert.EqualValues(t, 1, p.inflight[0].retries)

	out2 := retransmitDeadline(p, 0, cfg.MaxRetries, now)
	require.False(t, out2.dropped)
	assert.EqualValues(t, 2, p.inflight[0].retries)

	out3 := retransmitDeadline(p, 0, cfg.MaxRetries, now)
	assert.True(t, out3.dropped)
	assert.True(t, out3.retryExhaustion)
	assert.NotContains(t, p.inflight, uint32(0))
	assert.EqualValues(t, 1, p.lost)
}

func TestRetransmitDeadlineUnknownSeqIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	out := retransmitDeadline(p, 42, cfg.MaxRetries, time.Now())
	assert.False(t, out.dropped)
	assert.Nil(t, out.buf)
}

func TestHandleDataAckReleasesAndSamplesRTTOnlyForFreshSends(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	pool := NewPool(2, 2)
	now := time.Now()

	b1, _ := pool.Acquire()
	acceptWrite(p, b1, now)
	b2, _ := pool.Acquire()
	acceptWrite(p, b2, now)
	p.inflight[1].retries = 1 // simulate a retransmitted packet

	later := now.Add(50 * time.Millisecond)
	released := handleDataAck(p, []uint32{0, 1}, later)

	assert.Len(t, released, 2)
	assert.Empty(t, p.inflight)
	// Only seq 0 (retries==0) should have fed the estimator (Karn's rule).
	assert.True(t, p.rtt.hasSample)
	assert.Equal(t, 50*time.Millisecond, p.lastRTTSample)
}

func TestHandleDataAckIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	pool := NewPool(1, 1)
	now := time.Now()
	b, _ := pool.Acquire()
	acceptWrite(p, b, now)

	first := handleDataAck(p, []uint32{0}, now)
	assert.Len(t, first, 1)

	second := handleDataAck(p, []uint32{0}, now)
	assert.Empty(t, second)
}

func TestHandleDataNackRetransmitsInFlightOnly(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	pool := NewPool(1, 1)
	now := time.Now()
	b, _ := pool.Acquire()
	acceptWrite(p, b, now)

	outcomes := handleDataNack(p, []uint32{0, 999}, cfg.MaxRetries, now)
	assert.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].dropped)
	assert.EqualValues(t, 1, p.inflight[0].retries)
	assert.EqualValues(t, 1, p.retransmissions)
}

func TestHandleDataNackDropsAfterRetriesExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	p := testPeer(cfg)
	pool := NewPool(1, 1)
	now := time.Now()
	b, _ := pool.Acquire()
	acceptWrite(p, b, now)
	p.inflight[0].retries = 1 // already at the limit

	outcomes := handleDataNack(p, []uint32{0}, cfg.MaxRetries, now)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].dropped)
	assert.True(t, outcomes[0].retryExhaustion)
	assert.NotContains(t, p.inflight, uint32(0))
}
