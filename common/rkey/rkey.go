// Package rkey generates the monotone, lexicographically sortable record
// keys the store uses as the rkey component of a record id
// ("<did>/<collection>/<rkey>"). The format resolves spec.md's open
// question on rkey sortability: a 48-bit millisecond timestamp followed by
// a 16-bit suffix, Crockford base32 encoded to 13 characters. The suffix is
// crypto-random for the first key of a millisecond and is incremented for
// each further key this process mints in that millisecond. The encoding is
// implemented locally rather than importing a ULID library since it is a
// few lines of table lookup (see DESIGN.md for why this one thing is
// hand-rolled).
package rkey

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Len is the fixed length of a generated rkey string.
const Len = 13

// New returns a new rkey for the current time. Every rkey this process
// returns sorts after the one before it, including rkeys minted in the same
// millisecond, so no two are equal.
func New() (string, error) {
	return newAt(time.Now())
}

// last holds the timestamp and suffix of the most recent key this process
// minted.
var last struct {
	sync.Mutex
	ms  uint64
	seq uint16
}

func newAt(t time.Time) (string, error) {
	ms := uint64(t.UnixMilli())

	var entropy [2]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", fmt.Errorf("rkey: generate entropy: %w", err)
	}

	last.Lock()
	seq := uint16(entropy[0])<<8 | uint16(entropy[1])
	if ms <= last.ms {
		// Same (or an earlier) millisecond as the previous key: reuse its
		// timestamp and step the suffix, carrying into the timestamp on wrap.
		ms, seq = last.ms, last.seq+1
		if seq == 0 {
			ms++
		}
	}
	last.ms, last.seq = ms, seq
	last.Unlock()

	// 6 bytes of timestamp (the low 48 bits of the Unix millisecond count)
	// followed by the 2-byte suffix: 64 bits, encoded to the fixed Len.
	var buf [8]byte
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)
	buf[6] = byte(seq >> 8)
	buf[7] = byte(seq)

	return encode(buf[:]), nil
}

// encode renders 8 bytes (64 bits) as 13 Crockford base32 characters,
// matching ULID's bit-packing for its timestamp+randomness prefix. 13*5=65
// bits are needed, so the 64 input bits are right-aligned in a 65-bit
// window (one leading zero bit) read MSB-first.
func encode(b []byte) string {
	// padded holds the 64 input bits right-aligned within 72 bits (9 bytes),
	// i.e. one leading zero byte, which is enough headroom for the 65-bit
	// window below without any uint64 overflow.
	var padded [9]byte
	copy(padded[1:], b)

	var sb strings.Builder
	sb.Grow(Len)
	// Bit position (from the MSB of padded) of the start of each 5-bit
	// group. The window starts one bit before the data, so the first group
	// holds that zero bit plus 4 bits of data and every later group holds 5.
	startBit := 72 - 65
	for i := 0; i < Len; i++ {
		bitPos := startBit + i*5
		sb.WriteByte(crockford[readBits(padded[:], bitPos, 5)])
	}
	return sb.String()
}

// readBits reads n bits (n<=8) starting at bit offset pos (MSB-first, 0 =
// most significant bit of buf[0]) and returns them right-aligned.
func readBits(buf []byte, pos, n int) byte {
	var out byte
	for i := 0; i < n; i++ {
		bit := pos + i
		byteIdx := bit / 8
		bitIdx := 7 - bit%8
		var b byte
		if byteIdx < len(buf) {
			b = (buf[byteIdx] >> uint(bitIdx)) & 1
		}
		out = out<<1 | b
	}
	return out
}
