package rudp

import "time"

// rttEstimator is the classic TCP SRTT/RTTVAR estimator (spec.md §4.3).
// Karn's rule is enforced by the caller: Sample must never be invoked with
// a measurement taken from a retransmitted packet.
type rttEstimator struct {
	minRTO, maxRTO time.Duration

	hasSample bool
	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
}

func newRTTEstimator(initial, minRTO, maxRTO time.Duration) *rttEstimator {
	return &rttEstimator{
		minRTO: minRTO,
		maxRTO: maxRTO,
		rto:    initial,
	}
}

// Sample feeds a freshly measured non-retransmitted RTT into the estimator.
func (e *rttEstimator) Sample(m time.Duration) {
	if !e.hasSample {
		e.srtt = m
		e.rttvar = m / 2
		e.hasSample = true
	} else {
		diff := e.srtt - m
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = (3*e.rttvar + diff) / 4
		e.srtt = (7*e.srtt + m) / 8
	}

	rto := e.srtt + 4*e.rttvar
	e.rto = clampDuration(rto, e.minRTO, e.maxRTO)
}

// RTO returns the current retransmission timeout.
func (e *rttEstimator) RTO() time.Duration { return e.rto }

// Backoff doubles the current RTO, capped at maxRTO (spec.md §4.4).
func (e *rttEstimator) Backoff() time.Duration {
	next := e.rto * 2
	e.rto = clampDuration(next, e.minRTO, e.maxRTO)
	return e.rto
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
