package rudp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptDataDeliversFirstSeqOnce(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	now := time.Now()

	res := acceptData(p, 5, now)
	assert.True(t, res.deliver)
	assert.False(t, res.reAck)
	assert.EqualValues(t, 1, p.received)

	res2 := acceptData(p, 5, now)
	assert.False(t, res2.deliver)
	assert.True(t, res2.reAck)
	assert.EqualValues(t, 1, p.received) // unchanged, duplicate suppressed
}

func TestTrackGapRecordsHolesOnly(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	now := time.Now()

	acceptData(p, 0, now)
	acceptData(p, 3, now) // 1 and 2 are missing

	assert.Contains(t, p.gaps, uint32(1))
	assert.Contains(t, p.gaps, uint32(2))
	assert.NotContains(t, p.gaps, uint32(3))
}

func TestTrackGapClearsOnLateArrival(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	now := time.Now()

	acceptData(p, 0, now)
	acceptData(p, 2, now)
	require.Contains(t, p.gaps, uint32(1))

	acceptData(p, 1, now) // arrives late
	assert.NotContains(t, p.gaps, uint32(1))
}

func TestDueNacksRespectsThresholdAndRounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NackGapThresholdFactor = 1.5
	cfg.NackMaxRetransmitRounds = 2
	p := testPeer(cfg)
	now := time.Now()

	acceptData(p, 0, now)
	acceptData(p, 2, now)
	require.Contains(t, p.gaps, uint32(1))

	threshold := time.Duration(float64(p.rtt.RTO()) * cfg.NackGapThresholdFactor)
	notYet, exhausted := dueNacks(p, cfg, now.Add(threshold/2))
	assert.Empty(t, notYet)
	assert.False(t, exhausted)

	due, exhausted := dueNacks(p, cfg, now.Add(threshold+time.Millisecond))
	require.Equal(t, []uint32{1}, due)
	assert.False(t, exhausted)
	assert.EqualValues(t, 1, p.gaps[1].rounds)

	// Re-emitting again immediately is suppressed until RTO elapses.
	dueAgainTooSoon, exhausted := dueNacks(p, cfg, now.Add(threshold+2*time.Millisecond))
	assert.Empty(t, dueAgainTooSoon)
	assert.False(t, exhausted)

	dueRound2, exhausted := dueNacks(p, cfg, now.Add(threshold+p.rtt.RTO()+time.Millisecond))
	require.Equal(t, []uint32{1}, dueRound2)
	assert.False(t, exhausted)
	assert.EqualValues(t, 2, p.gaps[1].rounds)

	// Exceeded NackMaxRetransmitRounds: the gap is dropped and reported as
	// exhausted so the caller can verify liveness instead of NACKing.
	dueExhausted, exhausted := dueNacks(p, cfg, now.Add(threshold+3*p.rtt.RTO()))
	assert.Empty(t, dueExhausted)
	assert.True(t, exhausted)
	assert.NotContains(t, p.gaps, uint32(1))
}

func TestAcceptDataResetsSeenSetOnInboundWrap(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	now := time.Now()

	acceptData(p, 0xFFFFFFFE, now)
	acceptData(p, 0xFFFFFFFF, now)
	require.Contains(t, p.seen, uint32(0xFFFFFFFE))
	require.True(t, p.wrappedAt.IsZero())

	// Remote's inbound sequence counter wraps back to 0: the seen-sequence
	// set is fully reset (spec.md §3 "full reset on sequence wrap"), and
	// wrappedAt is stamped for the ack-cache retention extension — distinct
	// from our own outbound nextSeq, which never enters this decision
	// (spec.md §3: independent per-direction rings).
	acceptData(p, 0, now)
	assert.NotContains(t, p.seen, uint32(0xFFFFFFFE))
	assert.NotContains(t, p.seen, uint32(0xFFFFFFFF))
	assert.Contains(t, p.seen, uint32(0))
	assert.Equal(t, now, p.wrappedAt)
}

func TestAcceptWriteWrapDoesNotTouchInboundWrapState(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	now := time.Now()
	p.nextSeq = 0xFFFFFFFF

	buf := &Buffer{}
	acceptWrite(p, buf, now) // our outbound counter wraps here
	assert.True(t, p.wrappedAt.IsZero())
}

func TestScheduleAckAndDrainRespectsBatchCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckBatchMaxSeqs = 2
	p := testPeer(cfg)
	now := time.Now()

	scheduleAck(p, 1, now)
	scheduleAck(p, 2, now)
	scheduleAck(p, 3, now)

	seqs := drainPendingAck(p, cfg)
	assert.Equal(t, []uint32{1, 2}, seqs)
	assert.Equal(t, []uint32{3}, p.pendingAck)
}

func TestFlushDueTriggersOnCapOrAge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckBatchMaxSeqs = 64
	cfg.AckBatchFlushInterval = 50 * time.Millisecond
	p := testPeer(cfg)
	now := time.Now()

	assert.False(t, flushDue(p, cfg, now))

	scheduleAck(p, 1, now)
	assert.False(t, flushDue(p, cfg, now))
	assert.True(t, flushDue(p, cfg, now.Add(51*time.Millisecond)))
}

func TestCachedAckFoundAfterSchedule(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	now := time.Now()

	_, ok := cachedAck(p, 7)
	assert.False(t, ok)

	scheduleAck(p, 7, now)
	entry, ok := cachedAck(p, 7)
	require.True(t, ok)
	assert.Equal(t, now, entry.emittedAt)
}
