package rudp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoteActivityResetsFailuresAndRevivesFromProbing(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	p.status = StatusProbing
	p.pingFailures = 2

	noteActivity(p, time.Now())
	assert.Equal(t, StatusAlive, p.status)
	assert.Zero(t, p.pingFailures)
}

func TestNoteActivityLeavesDeadAlone(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	p.status = StatusDead

	noteActivity(p, time.Now())
	assert.Equal(t, StatusDead, p.status)
}

func TestAdvanceLivenessAliveToProbingOnIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	p := testPeer(cfg)
	now := time.Now()
	p.lastActivity = now

	action := advanceLiveness(p, cfg, now.Add(11*time.Millisecond))
	assert.Equal(t, livenessSendPing, action)
	assert.Equal(t, StatusProbing, p.status)
	assert.True(t, p.pingOutstanding)
}

func TestAdvanceLivenessProbingToDeadAfterMaxFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPingFailures = 1
	cfg.PingRateLimit = 0
	p := testPeer(cfg)
	now := time.Now()
	p.status = StatusProbing
	p.pingOutstanding = true
	p.pingSentAt = now

	// First timeout: still within failure budget, retries.
	action := advanceLiveness(p, cfg, now.Add(p.rtt.RTO()+time.Millisecond))
	assert.Equal(t, livenessSendPing, action)
	assert.Equal(t, StatusProbing, p.status)

	// Second timeout: failures now exceed MaxPingFailures -> Dead.
	action2 := advanceLiveness(p, cfg, now.Add(2*p.rtt.RTO()+2*time.Millisecond))
	assert.Equal(t, livenessNone, action2)
	assert.Equal(t, StatusDead, p.status)
}

func TestHandlePingAckRevivesAndSamplesRTT(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	p.status = StatusProbing
	p.pingOutstanding = true
	p.pingFailures = 1

	sentAt := time.Now().Add(-30 * time.Millisecond)
	now := time.Now()
	handlePingAck(p, sentAt.UnixNano(), now)

	assert.Equal(t, StatusAlive, p.status)
	assert.False(t, p.pingOutstanding)
	assert.Zero(t, p.pingFailures)
	assert.True(t, p.rtt.hasSample)
}

func TestTriggerLivenessProbeEntersProbingFromAlive(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)
	now := time.Now()

	action := triggerLivenessProbe(p, now)
	assert.Equal(t, livenessSendPing, action)
	assert.Equal(t, StatusProbing, p.status)
	assert.True(t, p.pingOutstanding)
	assert.Equal(t, now, p.pingSentAt)
}

func TestTriggerLivenessProbeNoopWhenAlreadyProbingOrDead(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	probing := testPeer(cfg)
	probing.pingOutstanding = true
	assert.Equal(t, livenessNone, triggerLivenessProbe(probing, now))

	dead := testPeer(cfg)
	dead.status = StatusDead
	assert.Equal(t, livenessNone, triggerLivenessProbe(dead, now))
}

func TestNoteRetryExhaustionDemotesThenKills(t *testing.T) {
	cfg := DefaultConfig()
	p := testPeer(cfg)

	noteRetryExhaustion(p)
	assert.Equal(t, StatusDegraded, p.status)

	noteRetryExhaustion(p)
	assert.Equal(t, StatusDead, p.status)
}
