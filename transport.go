package rudp

import (
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/ventosilenzioso/rudp/internal/rlog"
)

// RBuffer is one delivered payload, or a dead-peer notification, handed
// back by PollRead (spec.md §6).
type RBuffer struct {
	Addr *net.UDPAddr
	// Buf is non-nil on a normal delivery. Release it once done reading
	// Buf.Payload() to return it to the pool.
	Buf *Buffer
	// Err is non-nil for a notification RBuffer (e.g. ErrPeerDead); Buf is
	// nil in that case.
	Err error
}

// Transport is a single-peer-registry, single-socket reliable datagram
// endpoint implementing spec.md in full. Its public operations are not
// safe for concurrent use (spec.md §5) — the buffer Pool it was built
// with is the only piece that is.
type Transport struct {
	id   xid.ID
	conn *net.UDPConn
	pool *Pool
	reg  *registry
	cfg  Config
	log  *rlog.Logger

	deliverQueue []RBuffer

	lastCleanup time.Time
	closed      bool

	metrics *transportMetrics
}

// NewTransport binds a UDP socket to localAddr and returns a Transport
// ready to Write/PollRead/Tick. If pool is nil, a fresh Pool is created
// and pre-warmed per cfg (spec.md §6 constructor); pass a shared Pool to
// have multiple transports draw from the same buffer pool (spec.md §4.1).
func NewTransport(localAddr string, pool *Pool, cfg Config, logLevel rlog.Level) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	if pool == nil {
		pool = NewPool(cfg.PoolInitialCapacity, cfg.PoolMaxCapacity)
	}

	t := &Transport{
		id:          xid.New(),
		conn:        conn,
		pool:        pool,
		reg:         newRegistry(),
		cfg:         cfg,
		log:         rlog.New(logLevel),
		lastCleanup: time.Now(),
	}
	t.metrics = newTransportMetrics(t)
	t.log.Info("transport started", rlog.F("addr", conn.LocalAddr()), rlog.F("instance", t.id.String()))
	return t, nil
}

// AcquireBuffer pulls a buffer from the shared pool for the caller to fill
// before calling Write.
func (t *Transport) AcquireBuffer() (*Buffer, error) {
	return t.pool.Acquire()
}

// Write consumes buf, assigning it a sequence number internally and
// handing the framed datagram to the socket (spec.md §6). Returns
// ErrPeerDead if target's liveness classification is Dead.
func (t *Transport) Write(buf *Buffer, target *net.UDPAddr) error {
	if t.closed {
		return ErrClosed
	}
	now := time.Now()
	p := t.reg.getOrCreate(target, t.cfg, now)
	if p.status == StatusDead {
		buf.Release()
		return ErrPeerDead
	}

	seq := acceptWrite(p, buf, now)
	if _, err := t.conn.WriteToUDP(buf.framed(), target); err != nil {
		t.log.Warn("write failed", rlog.F("peer", target), rlog.F("seq", seq), rlog.F("err", err))
		return err
	}
	return nil
}

// WriteBytes is a convenience that acquires a buffer, copies payload into
// it, and writes it. Fails with ErrPayloadTooLarge if len(payload) > 1200.
func (t *Transport) WriteBytes(payload []byte, target *net.UDPAddr) error {
	if len(payload) > maxUserPayload {
		return ErrPayloadTooLarge
	}
	buf, err := t.AcquireBuffer()
	if err != nil {
		return err
	}
	n := copy(buf.PayloadCap(), payload)
	if err := buf.SetLength(n); err != nil {
		buf.Release()
		return err
	}
	return t.Write(buf, target)
}

// PollRead non-blockingly dequeues one delivered payload or dead-peer
// notification. It never touches the socket; call ReadFromSocket (or run
// a reader loop around it, see the example on ReadFromSocket below) to pull
// datagrams off the wire first.
func (t *Transport) PollRead() (*RBuffer, bool) {
	if len(t.deliverQueue) == 0 {
		return nil, false
	}
	r := t.deliverQueue[0]
	t.deliverQueue = t.deliverQueue[1:]
	return &r, true
}

// ReadFromSocket performs one non-blocking-in-spirit read of the
// underlying UDP socket (it will block the calling goroutine until a
// datagram or socket error arrives, matching net.UDPConn's normal
// semantics) and routes it through the wire codec and the appropriate
// engine. This is the suspension point spec.md §5 calls out for inbound
// I/O; callers typically run it in its own goroutine, e.g.:
//
//	for {
//	    if err := t.ReadFromSocket(); err != nil {
//	        return
//	    }
//	}
func (t *Transport) ReadFromSocket() error {
	buf, err := t.pool.Acquire()
	if err != nil {
		t.log.Warn("pool exhausted on receive", rlog.F("err", err))
		return nil
	}

	n, addr, err := t.conn.ReadFromUDP(buf.data[:])
	if err != nil {
		buf.Release()
		return err
	}

	t.handleInbound(buf, n, addr)
	return nil
}

func (t *Transport) handleInbound(buf *Buffer, n int, addr *net.UDPAddr) {
	raw := buf.data[:n]
	pkt, err := decode(raw)
	if err != nil {
		// Malformed or integrity-mismatched packets are dropped silently
		// and have no observable effect on engine state (spec.md §4.2/§7,
		// §8 property 3).
		t.log.Debug("dropped inbound packet", rlog.F("peer", addr), rlog.F("err", err))
		buf.Release()
		return
	}

	now := time.Now()
	p := t.reg.getOrCreate(addr, t.cfg, now)

	switch pkt.typ {
	case pktData:
		t.handleData(p, buf, pkt, addr, now)
	case pktDataAck:
		noteActivity(p, now)
		released := handleDataAck(p, pkt.seqs, now)
		for _, b := range released {
			b.Release()
		}
		buf.Release()
	case pktDataNack:
		noteActivity(p, now)
		for _, outcome := range handleDataNack(p, pkt.seqs, t.cfg.MaxRetries, now) {
			if outcome.buf == nil {
				continue
			}
			if outcome.dropped {
				outcome.buf.Release()
				if outcome.retryExhaustion {
					noteRetryExhaustion(p)
				}
				continue
			}
			t.conn.WriteToUDP(outcome.buf.framed(), addr)
		}
		buf.Release()
	case pktPing:
		noteActivity(p, now)
		ack := encodePing(pktPingAck, pkt.pingTS)
		t.conn.WriteToUDP(ack, addr)
		buf.Release()
	case pktPingAck:
		handlePingAck(p, int64(pkt.pingTS), now)
		buf.Release()
	case pktClose:
		t.sendRaw(addr, encodeCloseOrCloseAck(pktCloseAck))
		t.teardownPeer(addr, p)
		buf.Release()
	case pktCloseAck:
		p.closing = false
		t.teardownPeer(addr, p)
		buf.Release()
	default:
		buf.Release()
	}
}

func (t *Transport) handleData(p *peerState, buf *Buffer, pkt decodedPacket, addr *net.UDPAddr, now time.Time) {
	noteActivity(p, now)
	res := acceptData(p, pkt.seq, now)

	if res.reAck {
		if _, ok := cachedAck(p, pkt.seq); ok {
			t.sendRaw(addr, encodeAckOrNack(pktDataAck, []uint32{pkt.seq}))
		}
		buf.Release()
		return
	}

	if err := buf.SetLength(len(pkt.payload)); err != nil {
		buf.Release()
		return
	}
	t.deliverQueue = append(t.deliverQueue, RBuffer{Addr: addr, Buf: buf})

	if len(p.pendingAck) == 1 {
		// First seq in an otherwise-empty batch: emit immediately
		// (spec.md §4.5 "Immediate" mode).
		seqs := drainPendingAck(p, t.cfg)
		t.sendRaw(addr, encodeAckOrNack(pktDataAck, seqs))
	}
}

func (t *Transport) sendRaw(addr *net.UDPAddr, data []byte) {
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		t.log.Debug("control write failed", rlog.F("peer", addr), rlog.F("err", err))
	}
}

// Tick drives all time-based work (spec.md §4.8): for each peer,
// retransmission deadlines, NACK emission, ACK batch flush, liveness
// advancement and close-handshake retries, then periodic cleanup, in that
// order. Must be invoked on a schedule <= 50ms for timely ACK batching and
// retransmission.
func (t *Transport) Tick() error {
	if t.closed {
		return ErrClosed
	}
	now := time.Now()

	for _, p := range t.reg.all() {
		t.tickRetransmissions(p, now)
		t.tickNacks(p, now)
		t.tickAckFlush(p, now)
		t.tickLiveness(p, now)
		t.tickClose(p, now)
	}

	if now.Sub(t.lastCleanup) >= t.cfg.CleanupInterval {
		t.tickCleanup(now)
		t.lastCleanup = now
	}
	return nil
}

func (t *Transport) tickRetransmissions(p *peerState, now time.Time) {
	for _, seq := range expiredDeadlines(p, now) {
		outcome := retransmitDeadline(p, seq, t.cfg.MaxRetries, now)
		if outcome.buf == nil {
			continue
		}
		if outcome.dropped {
			outcome.buf.Release()
			if outcome.retryExhaustion {
				noteRetryExhaustion(p)
			}
			continue
		}
		t.conn.WriteToUDP(outcome.buf.framed(), p.addr)
	}
}

func (t *Transport) tickNacks(p *peerState, now time.Time) {
	due, exhausted := dueNacks(p, t.cfg, now)
	if exhausted {
		// A gap survived NackMaxRetransmitRounds of NACKs with no reply:
		// verify the peer is still alive (spec.md §4.5), rather than
		// tracking that gap forever.
		if triggerLivenessProbe(p, now) == livenessSendPing {
			ts := uint64(now.UnixNano())
			t.sendRaw(p.addr, encodePing(pktPing, ts))
		}
	}
	if len(due) == 0 {
		return
	}
	if len(due) > 255 {
		due = due[:255]
	}
	t.sendRaw(p.addr, encodeAckOrNack(pktDataNack, due))
}

func (t *Transport) tickAckFlush(p *peerState, now time.Time) {
	if !flushDue(p, t.cfg, now) {
		return
	}
	seqs := drainPendingAck(p, t.cfg)
	if len(seqs) == 0 {
		return
	}
	t.sendRaw(p.addr, encodeAckOrNack(pktDataAck, seqs))
}

func (t *Transport) tickLiveness(p *peerState, now time.Time) {
	action := advanceLiveness(p, t.cfg, now)
	if action == livenessSendPing {
		ts := uint64(now.UnixNano())
		t.sendRaw(p.addr, encodePing(pktPing, ts))
	}
}

// tickClose drives the graceful close handshake retry (spec.md §5): up to
// 3 retries at current RTO, then unconditional teardown.
func (t *Transport) tickClose(p *peerState, now time.Time) {
	if !p.closing {
		return
	}
	if now.Sub(p.closeSentAt) < p.rtt.RTO() {
		return
	}
	if p.closeRetries >= 3 {
		t.teardownPeer(p.addr, p)
		return
	}
	p.closeRetries++
	p.closeSentAt = now
	t.sendRaw(p.addr, encodeCloseOrCloseAck(pktClose))
}

func (t *Transport) tickCleanup(now time.Time) {
	for _, p := range t.reg.cleanup(t.cfg, now) {
		t.releasePeerBuffers(p)
		if p.status == StatusDead {
			t.deliverQueue = append(t.deliverQueue, RBuffer{Addr: p.addr, Err: ErrPeerDead})
		}
	}
}

func (t *Transport) teardownPeer(addr *net.UDPAddr, p *peerState) {
	t.reg.remove(addr)
	t.releasePeerBuffers(p)
}

func (t *Transport) releasePeerBuffers(p *peerState) {
	for seq, ifl := range p.inflight {
		ifl.buf.Release()
		delete(p.inflight, seq)
	}
}

// ConnectionStatus returns addr's Liveness FSM classification.
func (t *Transport) ConnectionStatus(addr *net.UDPAddr) Status {
	p, ok := t.reg.get(addr)
	if !ok {
		return StatusAlive
	}
	return p.status
}

// GetStats returns a snapshot of addr's connection statistics.
func (t *Transport) GetStats(addr *net.UDPAddr) (ConnectionStats, bool) {
	p, ok := t.reg.get(addr)
	if !ok {
		return ConnectionStats{}, false
	}
	return p.Stats(), true
}

// GetBufferPoolStats returns a snapshot of the shared pool's accounting.
func (t *Transport) GetBufferPoolStats() PoolStats {
	return t.pool.Stats()
}

// RequestClose begins the graceful close handshake with addr: a close
// packet is sent immediately and retried up to 3 times at the current
// RTO; the peer is torn down unconditionally afterward (spec.md §5).
func (t *Transport) RequestClose(addr *net.UDPAddr) {
	now := time.Now()
	p := t.reg.getOrCreate(addr, t.cfg, now)
	p.closing = true
	p.closeSentAt = now
	p.closeRetries = 0
	t.sendRaw(addr, encodeCloseOrCloseAck(pktClose))
}

// Close tears down all peers, releases all in-flight buffers back to the
// pool, and closes the socket. No final close packets are sent — per
// spec.md §5, dropping the transport is not the same as a graceful
// RequestClose for each peer.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	for _, p := range t.reg.all() {
		t.releasePeerBuffers(p)
	}
	t.log.Info("transport closed", rlog.F("instance", t.id.String()))
	return t.conn.Close()
}
