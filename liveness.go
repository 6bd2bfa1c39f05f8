package rudp

import "time"

// livenessAction tells the Tick Scheduler what, if anything, the Liveness
// FSM wants sent to the wire for this peer this tick (spec.md §4.6).
type livenessAction int

const (
	livenessNone livenessAction = iota
	livenessSendPing
)

// noteActivity resets the failure counter and bumps last-activity whenever
// any inbound data or ack arrives, per the "Any -> Alive" row of spec.md
// §4.6's transition table.
func noteActivity(p *peerState, now time.Time) {
	p.lastActivity = now
	p.pingFailures = 0
	if p.status != StatusDead {
		p.status = StatusAlive
	}
}

// advanceLiveness drives one Tick's worth of Liveness FSM transitions for
// p and returns the action (if any) the caller should take.
func advanceLiveness(p *peerState, cfg Config, now time.Time) livenessAction {
	switch p.status {
	case StatusAlive:
		if now.Sub(p.lastActivity) > cfg.IdleTimeout {
			p.status = StatusProbing
			p.pingSentAt = now
			p.pingOutstanding = true
			return livenessSendPing
		}

	case StatusProbing:
		if !p.pingOutstanding {
			return livenessNone
		}
		if now.Sub(p.pingSentAt) > p.rtt.RTO() {
			p.pingFailures++
			if p.pingFailures > cfg.MaxPingFailures {
				p.status = StatusDead
				return livenessNone
			}
			if !p.pingLimiter.AllowN(now, 1) {
				return livenessNone
			}
			p.pingSentAt = now
			return livenessSendPing
		}

	case StatusDegraded:
		if now.Sub(p.lastActivity) > cfg.IdleTimeout {
			if !p.pingOutstanding {
				p.status = StatusProbing
				p.pingSentAt = now
				p.pingOutstanding = true
				return livenessSendPing
			}
		}
	}
	return livenessNone
}

// triggerLivenessProbe forces an out-of-cycle ping probe for p, independent
// of the 30s idle timer: used when a NACK-tracked gap exhausts its
// retransmit rounds and spec.md §4.5 directs "emit a ping to verify
// liveness". A no-op if p is already Dead or already has a ping
// outstanding (the existing Probing cycle will resolve first), and rate
// limited by p.pingLimiter so repeated gap exhaustion can't flood pings.
func triggerLivenessProbe(p *peerState, now time.Time) livenessAction {
	if p.status == StatusDead || p.pingOutstanding {
		return livenessNone
	}
	if !p.pingLimiter.AllowN(now, 1) {
		return livenessNone
	}
	p.status = StatusProbing
	p.pingSentAt = now
	p.pingOutstanding = true
	return livenessSendPing
}

// handlePingAck applies an inbound ping-ack: RTT is sampled from the
// echoed timestamp, the peer returns to Alive, and the failure counter
// resets (spec.md §4.6 "Probing -> Alive").
func handlePingAck(p *peerState, echoedSendTimeUnixNano int64, now time.Time) {
	p.pingOutstanding = false
	p.pingFailures = 0
	if p.status != StatusDead {
		p.status = StatusAlive
	}
	p.lastActivity = now

	sampled := time.Unix(0, echoedSendTimeUnixNano)
	if rtt := now.Sub(sampled); rtt > 0 {
		p.rtt.Sample(rtt)
		p.lastRTTSample = rtt
		p.avgRTT = p.rtt.srttSnapshot()
	}
}

// noteRetryExhaustion applies spec.md §4.6's "send retries exceed 5 on any
// in-flight" row using the single-sequence policy from SPEC_FULL.md §8.3:
// the first retry-exhaustion demotes Alive/Probing to Degraded, a second
// one demotes to Dead.
func noteRetryExhaustion(p *peerState) {
	p.retryExhaustions++
	switch p.retryExhaustions {
	case 1:
		if p.status != StatusDead {
			p.status = StatusDegraded
		}
	default:
		p.status = StatusDead
	}
}
