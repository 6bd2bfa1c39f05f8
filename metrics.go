package rudp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// transportMetrics is a prometheus.Collector exposing a Transport's buffer
// pool and per-peer connection statistics. Grounded on the teacher pack's
// runZeroInc-conniver/pkg/exporter.TCPInfoCollector: a Describe/Collect
// pair scraping a live map of tracked entries at scrape time, without
// taking any lock on the registry (Transport's own state is
// single-goroutine, see spec.md §5), rather than pushing metrics eagerly.
type transportMetrics struct {
	t *Transport

	poolAcquisitions *prometheus.Desc
	poolHits         *prometheus.Desc
	poolMisses       *prometheus.Desc
	poolFree         *prometheus.Desc
	poolCapacity     *prometheus.Desc

	peerSent            *prometheus.Desc
	peerReceived        *prometheus.Desc
	peerLost            *prometheus.Desc
	peerRetransmissions *prometheus.Desc
	peerRTT             *prometheus.Desc
	peerStatus          *prometheus.Desc
}

func newTransportMetrics(t *Transport) *transportMetrics {
	constLabels := prometheus.Labels{"instance": t.id.String()}
	return &transportMetrics{
		t:                t,
		poolAcquisitions: prometheus.NewDesc("rudp_pool_acquisitions_total", "Total buffer pool acquisitions.", nil, constLabels),
		poolHits:         prometheus.NewDesc("rudp_pool_hits_total", "Buffer pool acquisitions served from the free list.", nil, constLabels),
		poolMisses:       prometheus.NewDesc("rudp_pool_misses_total", "Buffer pool acquisitions that allocated on demand.", nil, constLabels),
		poolFree:         prometheus.NewDesc("rudp_pool_free", "Buffers currently sitting in the free list.", nil, constLabels),
		poolCapacity:     prometheus.NewDesc("rudp_pool_capacity", "Maximum buffers the pool will retain.", nil, constLabels),

		peerSent:            prometheus.NewDesc("rudp_peer_packets_sent_total", "Data packets sent to a peer.", []string{"peer"}, constLabels),
		peerReceived:        prometheus.NewDesc("rudp_peer_packets_received_total", "Data packets accepted from a peer.", []string{"peer"}, constLabels),
		peerLost:            prometheus.NewDesc("rudp_peer_packets_lost_total", "Sequences declared lost after retry exhaustion.", []string{"peer"}, constLabels),
		peerRetransmissions: prometheus.NewDesc("rudp_peer_retransmissions_total", "Retransmissions sent to a peer.", []string{"peer"}, constLabels),
		peerRTT:             prometheus.NewDesc("rudp_peer_rtt_seconds", "Current smoothed RTT estimate.", []string{"peer"}, constLabels),
		peerStatus:          prometheus.NewDesc("rudp_peer_status", "Liveness classification (0=Alive,1=Probing,2=Degraded,3=Dead).", []string{"peer"}, constLabels),
	}
}

func (m *transportMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.poolAcquisitions
	ch <- m.poolHits
	ch <- m.poolMisses
	ch <- m.poolFree
	ch <- m.poolCapacity
	ch <- m.peerSent
	ch <- m.peerReceived
	ch <- m.peerLost
	ch <- m.peerRetransmissions
	ch <- m.peerRTT
	ch <- m.peerStatus
}

func (m *transportMetrics) Collect(ch chan<- prometheus.Metric) {
	stats := m.t.pool.Stats()
	ch <- prometheus.MustNewConstMetric(m.poolAcquisitions, prometheus.CounterValue, float64(stats.TotalAcquisitions))
	ch <- prometheus.MustNewConstMetric(m.poolHits, prometheus.CounterValue, float64(stats.PoolHits))
	ch <- prometheus.MustNewConstMetric(m.poolMisses, prometheus.CounterValue, float64(stats.PoolMisses))
	ch <- prometheus.MustNewConstMetric(m.poolFree, prometheus.GaugeValue, float64(stats.FreeCount))
	ch <- prometheus.MustNewConstMetric(m.poolCapacity, prometheus.GaugeValue, float64(stats.Capacity))

	for _, p := range m.t.reg.all() {
		label := p.addr.String()
		s := p.Stats()
		ch <- prometheus.MustNewConstMetric(m.peerSent, prometheus.CounterValue, float64(s.Sent), label)
		ch <- prometheus.MustNewConstMetric(m.peerReceived, prometheus.CounterValue, float64(s.Received), label)
		ch <- prometheus.MustNewConstMetric(m.peerLost, prometheus.CounterValue, float64(s.Lost), label)
		ch <- prometheus.MustNewConstMetric(m.peerRetransmissions, prometheus.CounterValue, float64(s.Retransmissions), label)
		ch <- prometheus.MustNewConstMetric(m.peerRTT, prometheus.GaugeValue, s.AverageRTT.Seconds(), label)
		ch <- prometheus.MustNewConstMetric(m.peerStatus, prometheus.GaugeValue, float64(s.Status), label)
	}
}

// Collector returns a prometheus.Collector for this transport, ready to be
// registered with a prometheus.Registry by the embedding application
// (spec.md's Out of scope §1 excludes logging/metrics wiring beyond the
// core, so Transport never registers itself globally).
func (t *Transport) Collector() prometheus.Collector {
	return t.metrics
}
