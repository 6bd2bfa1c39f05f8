package rudp

import "time"

// sendEngine implements spec.md §4.4 against a single peerState. It is a
// thin set of free functions rather than a type of its own: all the state
// it needs already lives on peerState, and Transport is the only caller.

// acceptWrite allocates the next sequence number for p, stamps buf's header
// via the codec, and records an in-flight entry with deadline = now + RTO.
// The caller is responsible for actually handing buf's framed bytes to the
// socket.
func acceptWrite(p *peerState, buf *Buffer, now time.Time) uint32 {
	seq := p.nextSeq
	p.nextSeq++
	// Note: this is our own outbound sequence counter wrapping, which is
	// independent of the remote's inbound sequence stream (each direction
	// has its own 32-bit ring, spec.md §3 invariants). The ack-cache/
	// seen-set wrap handling in recv.go keys off the *inbound* stream, not
	// this counter.

	encodeData(buf, seq)
	p.inflight[seq] = &inflight{
		buf:       buf,
		firstSent: now,
		deadline:  now.Add(p.rtt.RTO()),
		retries:   0,
	}
	p.sent++
	return seq
}

// expiredDeadlines returns the seqs of in-flight entries whose deadline has
// passed, in an unspecified order. The caller drives retransmitDeadline for
// each, which either retransmits or drops the entry.
func expiredDeadlines(p *peerState, now time.Time) []uint32 {
	var out []uint32
	for seq, ifl := range p.inflight {
		if !now.Before(ifl.deadline) {
			out = append(out, seq)
		}
	}
	return out
}

// retransmitOutcome tells the caller what happened to one expired entry.
type retransmitOutcome struct {
	seq         uint32
	dropped     bool   // true: retries exhausted, entry removed; caller releases buf
	buf         *Buffer
	retryExhaustion bool
}

// retransmitDeadline applies the timeout path of spec.md §4.4 to one
// expired in-flight entry: either it is dropped (retries == maxRetries) or
// it is retransmitted with RTO backoff.
func retransmitDeadline(p *peerState, seq uint32, maxRetries int, now time.Time) retransmitOutcome {
	ifl := p.inflight[seq]
	if ifl == nil {
		return retransmitOutcome{seq: seq}
	}
	if ifl.retries >= maxRetries {
		delete(p.inflight, seq)
		p.lost++
		return retransmitOutcome{seq: seq, dropped: true, buf: ifl.buf, retryExhaustion: true}
	}

	ifl.retries++
	p.rtt.Backoff()
	ifl.deadline = now.Add(p.rtt.RTO())
	p.retransmissions++
	return retransmitOutcome{seq: seq, buf: ifl.buf}
}

// handleDataAck applies an inbound data-ack to p: acknowledged in-flight
// entries are removed and their buffers released; an RTT sample is fed to
// the estimator only for entries with retries == 0 (Karn's rule). Unknown
// or already-acked sequences are ignored, making repeat application
// idempotent (spec.md §8).
func handleDataAck(p *peerState, seqs []uint32, now time.Time) []*Buffer {
	var released []*Buffer
	for _, seq := range seqs {
		ifl, ok := p.inflight[seq]
		if !ok {
			continue
		}
		if ifl.retries == 0 {
			sample := now.Sub(ifl.firstSent)
			p.rtt.Sample(sample)
			p.lastRTTSample = sample
			p.avgRTT = p.rtt.srttSnapshot()
		}
		delete(p.inflight, seq)
		released = append(released, ifl.buf)
	}
	return released
}

// srttSnapshot exposes the estimator's current smoothed RTT for statistics
// reporting without leaking the estimator's internals.
func (e *rttEstimator) srttSnapshot() time.Duration {
	if !e.hasSample {
		return 0
	}
	return e.srtt
}

// handleDataNack applies an inbound data-nack by routing each listed seq
// through the same retransmitDeadline helper the timeout path uses,
// treating a NACK as timeout-equivalent (spec.md §4.4, NACK policy
// resolved in SPEC_FULL.md §8.2): retries increments and RTO backs off,
// and a seq that has already exhausted maxRetries is dropped exactly as it
// would be on its next timeout, rather than being retransmitted forever.
// Seqs not currently in-flight (already acked, or never sent) are ignored.
func handleDataNack(p *peerState, seqs []uint32, maxRetries int, now time.Time) []retransmitOutcome {
	var outcomes []retransmitOutcome
	for _, seq := range seqs {
		if _, ok := p.inflight[seq]; !ok {
			continue
		}
		outcomes = append(outcomes, retransmitDeadline(p, seq, maxRetries, now))
	}
	return outcomes
}
