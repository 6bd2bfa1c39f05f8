package rudp

import "sync"

// headerSize is the 9-byte wire header every datagram carries (spec.md §4.2).
const headerSize = 9

// maxBufferPayload is the fixed payload region every pooled buffer exposes,
// regardless of how much of it a caller actually uses (spec.md §4.1).
const maxBufferPayload = 1400

// maxUserPayload is the largest payload length a data packet may carry
// (spec.md §3 invariants, §6 write_bytes).
const maxUserPayload = 1200

// bufferCapacity is the fixed size of every buffer a Pool hands out:
// 9 header bytes + 1400 payload bytes (spec.md §3 "Pooled buffer").
const bufferCapacity = headerSize + maxBufferPayload

// Buffer is a fixed-capacity, pool-owned byte region. The first headerSize
// bytes are reserved for the wire codec and are not reachable through the
// payload API. Release returns the buffer to the pool it was acquired from;
// callers must not touch a Buffer after releasing it.
type Buffer struct {
	pool *Pool
	data [bufferCapacity]byte
	// length is the effective payload length, 0..=maxUserPayload.
	length int
}

// Payload returns the mutable payload region sized to the buffer's current
// effective length.
func (b *Buffer) Payload() []byte {
	return b.data[headerSize : headerSize+b.length]
}

// PayloadCap returns the full 1400-byte payload region regardless of the
// current effective length, for callers that want to fill before calling
// SetLength.
func (b *Buffer) PayloadCap() []byte {
	return b.data[headerSize : headerSize+maxBufferPayload]
}

// SetLength sets the effective payload length. It returns ErrPayloadTooLarge
// if n exceeds maxUserPayload.
func (b *Buffer) SetLength(n int) error {
	if n < 0 || n > maxUserPayload {
		return ErrPayloadTooLarge
	}
	b.length = n
	return nil
}

// Len returns the buffer's current effective payload length.
func (b *Buffer) Len() int { return b.length }

// header returns the 9-byte header region, for use by the codec only.
func (b *Buffer) header() []byte { return b.data[:headerSize] }

// framed returns the header followed by the effective payload — the bytes
// actually placed on the wire.
func (b *Buffer) framed() []byte { return b.data[:headerSize+b.length] }

// Release returns the buffer to its originating pool. Safe to call once;
// calling it more than once, or using the buffer afterward, is a caller bug
// the way it is in the teacher's scoped-buffer contract (spec.md §4.1).
func (b *Buffer) Release() {
	if b.pool == nil {
		return
	}
	p := b.pool
	b.pool = nil
	b.length = 0
	p.release(b)
}

// PoolStats is a snapshot of buffer pool accounting (spec.md §8 property 5).
type PoolStats struct {
	TotalAcquisitions uint64
	PoolHits          uint64
	PoolMisses        uint64
	FreeCount         int
	Capacity          int
}

// Pool is a thread-safe, fixed-size buffer pool. It hands buffers out in
// the same order they were released (FIFO) rather than LIFO, per spec.md
// §4.1 ("allocation pops from one end; release pushes to the other ...
// aids cache freshness uniformity across the pool"). It is implemented as
// the classic two-stack queue: `released` accumulates newly-released
// buffers in arrival order, and `ready` holds buffers in dispatch order
// (oldest on top); once `ready` runs dry it is refilled by draining
// `released` in reverse, which is what makes popping off the tail of
// `ready` equivalent to popping off the head of a single FIFO queue. A
// single pool may be shared across multiple Transport instances (spec.md
// §4.1/§5).
type Pool struct {
	mu sync.Mutex
	// ready holds free buffers in dispatch order: the next one to hand
	// out sits at the end of the slice.
	ready []*Buffer
	// released holds buffers pushed back by Release since ready was last
	// refilled, oldest-released at index 0.
	released []*Buffer

	maxCapacity int
	// created is the number of buffers currently owned by this pool,
	// whether sitting free or held by a caller. It never exceeds
	// maxCapacity; a release that would grow the free list past
	// maxCapacity instead drops the buffer and decrements created, so a
	// fresh Acquire can allocate again later.
	created int

	totalAcquisitions uint64
	hits              uint64
	misses            uint64
}

// NewPool constructs a pool pre-warmed with initialCapacity buffers, capped
// at maxCapacity total buffers the pool will ever own at once.
func NewPool(initialCapacity, maxCapacity int) *Pool {
	p := &Pool{maxCapacity: maxCapacity}
	// Seed ready directly so the first initialCapacity acquisitions are
	// served oldest-created-first: ready[len-1] must be the first buffer
	// created, so build it back-to-front.
	p.ready = make([]*Buffer, initialCapacity)
	for i := 0; i < initialCapacity; i++ {
		p.ready[initialCapacity-1-i] = &Buffer{}
	}
	p.created = initialCapacity
	return p
}

// Acquire pops the oldest-released buffer from the free list (FIFO,
// spec.md §4.1), allocating a new one on miss. The returned buffer's
// payload region is uninitialized and sized to 0. Acquire fails with
// ErrPoolExhausted if the free list is empty and the pool already owns
// maxCapacity buffers.
func (p *Pool) Acquire() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalAcquisitions++

	if len(p.ready) == 0 {
		p.refillReady()
	}

	if n := len(p.ready); n > 0 {
		b := p.ready[n-1]
		p.ready = p.ready[:n-1]
		p.hits++
		b.pool = p
		b.length = 0
		return b, nil
	}

	if p.created >= p.maxCapacity {
		return nil, ErrPoolExhausted
	}
	p.misses++
	p.created++
	return &Buffer{pool: p}, nil
}

// refillReady drains `released` into `ready`, reversing order so the
// oldest-released buffer ends up on top of `ready` (i.e. dispatched
// next). Must be called with p.mu held.
func (p *Pool) refillReady() {
	for n := len(p.released); n > 0; n = len(p.released) {
		p.ready = append(p.ready, p.released[n-1])
		p.released = p.released[:n-1]
	}
}

// release pushes b onto the back of the free queue, unless the pool is
// already at MAX_POOL_CAPACITY, in which case it is freed rather than
// retained (spec.md §4.1).
func (p *Pool) release(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ready)+len(p.released) >= p.maxCapacity {
		p.created--
		return
	}
	p.released = append(p.released, b)
}

// Stats returns a point-in-time snapshot of pool accounting.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		TotalAcquisitions: p.totalAcquisitions,
		PoolHits:          p.hits,
		PoolMisses:        p.misses,
		FreeCount:         len(p.ready) + len(p.released),
		Capacity:          p.maxCapacity,
	}
}
