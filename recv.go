package rudp

import "time"

// acceptResult tells the caller what to do after an inbound data packet
// has been run through the Receive Engine's duplicate-suppression path
// (spec.md §4.5).
type acceptResult struct {
	// deliver is true the first time this seq is accepted: the payload
	// should be copied out and handed to the application queue.
	deliver bool
	// reAck is true when this is a duplicate: the cached ACK for seq
	// should be re-emitted without re-delivering the payload.
	reAck bool
}

// acceptData runs one inbound data packet through duplicate suppression,
// gap tracking, and ACK scheduling. It mutates p but never touches the
// application-visible delivery queue — that is the caller's job once
// acceptResult.deliver is true.
func acceptData(p *peerState, seq uint32, now time.Time) acceptResult {
	detectInboundWrap(p, seq, now)

	if _, dup := p.seen[seq]; dup {
		return acceptResult{reAck: true}
	}

	p.seen[seq] = now
	p.received++
	delete(p.gaps, seq)
	trackGap(p, seq)
	scheduleAck(p, seq, now)
	return acceptResult{deliver: true}
}

// detectInboundWrap notices the remote's inbound sequence stream — the
// one tracked by p.lastSeen/p.seen, independent of our own outbound
// nextSeq (spec.md §3: each direction has its own 32-bit ring) — wrapping
// back around to 0. On wrap, the seen-sequence set is fully reset per
// spec.md §3 ("full reset on sequence wrap"), and p.wrappedAt is stamped
// so the next registry cleanup pass widens ack-cache retention to the
// longer 1-hour window instead of the generic 60s one (spec.md §9,
// SPEC_FULL.md §8.4) — the ack cache itself is not cleared here, only
// retained longer, since it is keyed by the same inbound seq space but
// spec.md only calls for a full reset of the seen-sequence set.
func detectInboundWrap(p *peerState, seq uint32, now time.Time) {
	if !p.haveSeen {
		return
	}
	if seq < p.lastSeen && seqAfter(seq, p.lastSeen) {
		p.wrappedAt = now
		p.seen = make(map[uint32]time.Time)
		p.gaps = make(map[uint32]*gapWatch)
	}
}

// trackGap records any hole between the highest seq seen so far and this
// one as a candidate for NACK emission (spec.md §4.5 NACK policy). It only
// ever *widens* the watched set; acceptData above clears entries for seqs
// that do arrive.
func trackGap(p *peerState, seq uint32) {
	if !p.haveSeen {
		p.haveSeen = true
		p.lastSeen = seq
		return
	}
	if seq != p.lastSeen && seqAfter(seq, p.lastSeen) {
		for missing := p.lastSeen + 1; missing != seq; missing++ {
			if _, seenAlready := p.seen[missing]; seenAlready {
				continue
			}
			if _, tracked := p.gaps[missing]; !tracked {
				p.gaps[missing] = &gapWatch{firstSeen: time.Now()}
			}
		}
		p.lastSeen = seq
	}
}

// dueNacks scans p's tracked gaps and returns the seqs that have persisted
// past 1.5*RTO (spec.md §4.5), re-emitting once per RTO up to
// NackMaxRetransmitRounds. A gap that exhausts its rounds without the
// missing seq ever arriving is dropped from tracking and reported via the
// second return value, so the caller can "emit a ping to verify liveness"
// as spec.md §4.5 directs — the sender's own retransmission timer is what
// may eventually declare that seq lost.
func dueNacks(p *peerState, cfg Config, now time.Time) ([]uint32, bool) {
	threshold := time.Duration(float64(p.rtt.RTO()) * cfg.NackGapThresholdFactor)
	var due []uint32
	exhausted := false
	for seq, g := range p.gaps {
		if now.Sub(g.firstSeen) < threshold {
			continue
		}
		if g.rounds >= cfg.NackMaxRetransmitRounds {
			exhausted = true
			delete(p.gaps, seq)
			continue
		}
		if !g.lastNackAt.IsZero() && now.Sub(g.lastNackAt) < p.rtt.RTO() {
			continue
		}
		g.lastNackAt = now
		g.rounds++
		due = append(due, seq)
	}
	return due, exhausted
}

// scheduleAck appends seq to the pending ACK batch (spec.md §4.5 ACK
// policy); it sends nothing itself. Immediate mode is handled by the caller:
// handleData sends the batch at once when seq is its only entry. The ack
// cache is stamped so a re-arriving duplicate can be answered without
// re-processing.
func scheduleAck(p *peerState, seq uint32, now time.Time) {
	p.ackCache[seq] = ackCacheEntry{emittedAt: now}
	if len(p.pendingAck) == 0 {
		p.pendingAt = now
	}
	p.pendingAck = append(p.pendingAck, seq)
}

// flushDue returns true if the pending ACK batch should be flushed: it has
// reached the batch cap, or it has aged past the flush interval.
func flushDue(p *peerState, cfg Config, now time.Time) bool {
	if len(p.pendingAck) == 0 {
		return false
	}
	if len(p.pendingAck) >= cfg.AckBatchMaxSeqs {
		return true
	}
	return now.Sub(p.pendingAt) >= cfg.AckBatchFlushInterval
}

// drainPendingAck removes and returns the pending ACK batch, capped at
// AckBatchMaxSeqs per datagram (spec.md §4.5); any remainder stays pending
// for the next flush.
func drainPendingAck(p *peerState, cfg Config) []uint32 {
	if len(p.pendingAck) <= cfg.AckBatchMaxSeqs {
		out := p.pendingAck
		p.pendingAck = nil
		return out
	}
	out := p.pendingAck[:cfg.AckBatchMaxSeqs]
	p.pendingAck = p.pendingAck[cfg.AckBatchMaxSeqs:]
	return out
}

// cachedAck returns the ack cache entry for seq, if still present, so a
// duplicate data packet can re-trigger its cached ACK (spec.md §3 "ACK
// cache").
func cachedAck(p *peerState, seq uint32) (ackCacheEntry, bool) {
	e, ok := p.ackCache[seq]
	return e, ok
}
