package rudp

import (
	"encoding/binary"
	"hash/fnv"
)

// Packet type tags (spec.md §4.2).
const (
	pktPing     byte = 0
	pktPingAck  byte = 1
	pktData     byte = 2
	pktDataAck  byte = 3
	pktDataNack byte = 4
	pktClose    byte = 5
	pktCloseAck byte = 6
)

// Every datagram shares the same 9-byte header: type(1) + integrity(4) +
// seq-or-zero(4). What follows the header ("the body") varies by type:
// ping/ping-ack carry an 8-byte timestamp, data carries 0..1200 payload
// bytes, data-ack/data-nack carry a 1-byte count followed by that many
// 4-byte seqs, close/close-ack carry nothing. This keeps spec.md's "reject
// anything shorter than 9 bytes" rule uniform across every type, and keeps
// the seq-or-zero field meaningful only for data packets.
var integritySalt = [6]byte{'f', 'f', 'm', 'e', 's', 'h'}

// integrityPrefixPad is the minimum body size the integrity hash input is
// padded to (spec.md §9 open question, resolved in SPEC_FULL.md §8.1: both
// the length field and the zero-padded 16-byte prefix are included).
const integrityPrefixPad = 16

// computeIntegrity computes the 4-byte FNV-1a-32 integrity code over
// salt || type || seq-or-zero(4,BE) || body-length(2,BE) || body, with body
// zero-padded to 16 bytes if shorter (padding included in the hash, never
// on the wire). "body" is whatever follows the 9-byte header for that type.
func computeIntegrity(typ byte, seqOrZero uint32, body []byte) uint32 {
	h := fnv.New32a()
	h.Write(integritySalt[:])
	h.Write([]byte{typ})

	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seqOrZero)
	h.Write(seqBuf[:])

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(body)))
	h.Write(lenBuf[:])

	h.Write(body)
	if len(body) < integrityPrefixPad {
		var pad [integrityPrefixPad]byte
		h.Write(pad[:integrityPrefixPad-len(body)])
	}

	return h.Sum32()
}

// encodeData stamps b's header as a data packet carrying seq and the
// buffer's current payload, ready to hand to the socket.
func encodeData(b *Buffer, seq uint32) {
	hdr := b.header()
	hdr[0] = pktData
	binary.BigEndian.PutUint32(hdr[5:9], seq)
	code := computeIntegrity(pktData, seq, b.Payload())
	binary.BigEndian.PutUint32(hdr[1:5], code)
}

// decodedPacket is the fully-typed result of parsing one inbound datagram.
type decodedPacket struct {
	typ     byte
	seq     uint32   // data only
	seqs    []uint32 // data-ack / data-nack
	pingTS  uint64   // ping / ping-ack
	payload []byte   // data only; aliases the input slice
}

// decode parses a raw inbound datagram, verifying length and integrity.
// Malformed headers return ErrMalformedPacket; a non-matching integrity
// code returns ErrIntegrityMismatch. Both are caller-silent per spec.md
// §4.2/§7 — decode exists so the caller can choose to log at debug level,
// but must never let either error affect engine state.
func decode(raw []byte) (decodedPacket, error) {
	if len(raw) < headerSize {
		return decodedPacket{}, ErrMalformedPacket
	}
	typ := raw[0]
	wireCode := binary.BigEndian.Uint32(raw[1:5])
	seqField := binary.BigEndian.Uint32(raw[5:9])
	body := raw[headerSize:]

	switch typ {
	case pktPing, pktPingAck:
		if len(body) < 8 {
			return decodedPacket{}, ErrMalformedPacket
		}
		ts := binary.BigEndian.Uint64(body[:8])
		if computeIntegrity(typ, 0, body[:8]) != wireCode {
			return decodedPacket{}, ErrIntegrityMismatch
		}
		return decodedPacket{typ: typ, pingTS: ts}, nil

	case pktData:
		if len(body) > maxUserPayload {
			return decodedPacket{}, ErrMalformedPacket
		}
		if computeIntegrity(typ, seqField, body) != wireCode {
			return decodedPacket{}, ErrIntegrityMismatch
		}
		return decodedPacket{typ: typ, seq: seqField, payload: body}, nil

	case pktDataAck, pktDataNack:
		if len(body) < 1 {
			return decodedPacket{}, ErrMalformedPacket
		}
		n := int(body[0])
		if len(body) < 1+n*4 {
			return decodedPacket{}, ErrMalformedPacket
		}
		if computeIntegrity(typ, 0, body[:1+n*4]) != wireCode {
			return decodedPacket{}, ErrIntegrityMismatch
		}
		seqs := make([]uint32, n)
		for i := 0; i < n; i++ {
			off := 1 + i*4
			seqs[i] = binary.BigEndian.Uint32(body[off : off+4])
		}
		return decodedPacket{typ: typ, seqs: seqs}, nil

	case pktClose, pktCloseAck:
		if computeIntegrity(typ, 0, nil) != wireCode {
			return decodedPacket{}, ErrIntegrityMismatch
		}
		return decodedPacket{typ: typ}, nil

	default:
		return decodedPacket{}, ErrMalformedPacket
	}
}

// encodePing builds a ping or ping-ack datagram carrying ts.
func encodePing(typ byte, ts uint64) []byte {
	buf := make([]byte, headerSize+8)
	buf[0] = typ
	binary.BigEndian.PutUint64(buf[headerSize:headerSize+8], ts)
	code := computeIntegrity(typ, 0, buf[headerSize:headerSize+8])
	binary.BigEndian.PutUint32(buf[1:5], code)
	return buf
}

// encodeAckOrNack builds a data-ack or data-nack datagram listing seqs.
// Panics if len(seqs) > 255 — callers must respect the batch cap
// (spec.md §4.5) before calling this.
func encodeAckOrNack(typ byte, seqs []uint32) []byte {
	if len(seqs) > 255 {
		panic("rudp: too many seqs for one ack/nack datagram")
	}
	body := make([]byte, 1+len(seqs)*4)
	body[0] = byte(len(seqs))
	for i, s := range seqs {
		off := 1 + i*4
		binary.BigEndian.PutUint32(body[off:off+4], s)
	}

	buf := make([]byte, headerSize+len(body))
	buf[0] = typ
	copy(buf[headerSize:], body)
	code := computeIntegrity(typ, 0, body)
	binary.BigEndian.PutUint32(buf[1:5], code)
	return buf
}

// encodeCloseOrCloseAck builds a bodyless close/close-ack datagram.
func encodeCloseOrCloseAck(typ byte) []byte {
	buf := make([]byte, headerSize)
	buf[0] = typ
	code := computeIntegrity(typ, 0, nil)
	binary.BigEndian.PutUint32(buf[1:5], code)
	return buf
}
