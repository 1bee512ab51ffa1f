// Package wire implements the bit-exact on-the-wire packet format of spec
// §3/§4.B: a 16-byte header shared by data and control packets, discriminated
// by the top bit of the first word.
//
// Encoding is total and always big-endian. Decoding classifies every
// malformed input into one of the DecodeError kinds; it never panics on
// attacker-controlled input.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of both the data and the control
// packet header (spec §3).
const HeaderSize = 16

// discriminatorBit is bit 31 of the first header word: 0 selects a data
// packet, 1 selects a control packet.
const discriminatorBit = 1 << 31

// ErrorKind classifies why Decode rejected an input (spec §4.B).
type ErrorKind uint8

const (
	_ ErrorKind = iota
	// TooShort means the buffer is smaller than HeaderSize, or smaller than
	// the size implied by a type-specific body.
	TooShort
	// BadDiscriminator is never actually returned by Decode (the bit always
	// produces either a DataPacket or a ControlPacket); it is reserved for
	// callers layering additional discriminators on top of this codec.
	BadDiscriminator
	// UnknownControlType means the control type field did not match any
	// of the types in spec §3.
	UnknownControlType
	// BadFlagCombination means a data packet's boundary/key flags formed a
	// combination the protocol does not allow to be sent.
	BadFlagCombination
	// PayloadTruncated means a type-specific body claimed a length longer
	// than the bytes actually present.
	PayloadTruncated
)

func (k ErrorKind) String() string {
	switch k {
	case TooShort:
		return "too short"
	case BadDiscriminator:
		return "bad discriminator"
	case UnknownControlType:
		return "unknown control type"
	case BadFlagCombination:
		return "bad flag combination"
	case PayloadTruncated:
		return "payload truncated"
	default:
		return "unknown decode error"
	}
}

// DecodeError reports why Decode rejected a packet. It never wraps a stack
// trace: decode errors are protocol-local (spec §7) and are expected to be
// counted and dropped, not propagated as exceptional failures.
type DecodeError struct {
	Kind   ErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "wire: " + e.Kind.String()
	}
	return fmt.Sprintf("wire: %s: %s", e.Kind, e.Detail)
}

func newDecodeErr(kind ErrorKind, detail string) *DecodeError {
	return &DecodeError{Kind: kind, Detail: detail}
}

// isControlWord reports whether word0, the first header word of a packet,
// marks a control packet.
func isControlWord(word0 uint32) bool { return word0&discriminatorBit != 0 }

func be32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func putBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
