// Package handshake implements the handshake wire body, SYN-cookie
// generation/validation, and the negotiator that drives the two-exchange
// induction/conclusion handshake of spec §4.C.
package handshake

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/multipathsrt/srt/seq"
)

// Version identifies the handshake wire version (spec §6).
type Version uint32

const (
	// VersionLegacy is version 4: induction-only legacy compatibility.
	VersionLegacy Version = 4
	// VersionCurrent is version 5: the version this spec implements fully.
	VersionCurrent Version = 5
)

// Encryption names the encryption field values (spec §6). AES-128/192 are
// accepted as negotiable values even though encryption itself is future
// work (spec §1) — the field exists so the wire is forward compatible.
type Encryption uint16

const (
	EncryptionNone Encryption = 0
	EncryptionAES128 Encryption = 2
	EncryptionAES192 Encryption = 3
	EncryptionAES256 Encryption = 4
)

// ExtensionFlags are the bits of the handshake extension field (spec §6).
type ExtensionFlags uint16

const (
	ExtHSREQ  ExtensionFlags = 1 << 0
	ExtKMREQ  ExtensionFlags = 1 << 1
	ExtConfig ExtensionFlags = 1 << 2
	ExtGroup  ExtensionFlags = 1 << 3
)

// ConnType is the handshake_type field (spec §6).
type ConnType int32

const (
	ConnRendezvous ConnType = 0
	ConnInduction  ConnType = 1
	ConnConclusion ConnType = -1
	ConnAgreement  ConnType = -2
)

func (c ConnType) String() string {
	switch c {
	case ConnRendezvous:
		return "rendezvous"
	case ConnInduction:
		return "induction"
	case ConnConclusion:
		return "conclusion"
	case ConnAgreement:
		return "agreement"
	default:
		return fmt.Sprintf("ConnType(%d)", int32(c))
	}
}

// BodyLen is the fixed size of the base handshake body, before any
// extension blocks (spec §3 "Handshake body").
const BodyLen = 48

// Body is the base handshake control-packet body, common to induction,
// conclusion and agreement exchanges.
type Body struct {
	Version        Version
	Encryption     Encryption
	ExtensionFlags ExtensionFlags
	InitialSeq     seq.Value
	MTU            uint32
	FlightFlagSize uint32 // max packets in flight the sender of this body can accept
	Type           ConnType
	SocketID       uint32
	SynCookie      uint32
	PeerAddr       netip.Addr // IPv4 or IPv6; zero value encodes as all-zero 128 bits
}

// Encode serializes b into dst, which must be at least BodyLen bytes.
func (b Body) Encode(dst []byte) (int, error) {
	if len(dst) < BodyLen {
		return 0, fmt.Errorf("handshake: destination buffer smaller than body (%d < %d)", len(dst), BodyLen)
	}
	binary.BigEndian.PutUint32(dst[0:4], uint32(b.Version))
	binary.BigEndian.PutUint16(dst[4:6], uint16(b.Encryption))
	binary.BigEndian.PutUint16(dst[6:8], uint16(b.ExtensionFlags))
	binary.BigEndian.PutUint32(dst[8:12], uint32(b.InitialSeq))
	binary.BigEndian.PutUint32(dst[12:16], b.MTU)
	binary.BigEndian.PutUint32(dst[16:20], b.FlightFlagSize)
	binary.BigEndian.PutUint32(dst[20:24], uint32(b.Type))
	binary.BigEndian.PutUint32(dst[24:28], b.SocketID)
	binary.BigEndian.PutUint32(dst[28:32], b.SynCookie)
	addr16 := b.PeerAddr.As16()
	copy(dst[32:48], addr16[:])
	return BodyLen, nil
}

// Decode parses a base handshake body from buf.
func Decode(buf []byte) (Body, error) {
	if len(buf) < BodyLen {
		return Body{}, fmt.Errorf("handshake: body too short (%d < %d)", len(buf), BodyLen)
	}
	var addrBytes [16]byte
	copy(addrBytes[:], buf[32:48])
	b := Body{
		Version:        Version(binary.BigEndian.Uint32(buf[0:4])),
		Encryption:     Encryption(binary.BigEndian.Uint16(buf[4:6])),
		ExtensionFlags: ExtensionFlags(binary.BigEndian.Uint16(buf[6:8])),
		InitialSeq:     seq.New(binary.BigEndian.Uint32(buf[8:12])),
		MTU:            binary.BigEndian.Uint32(buf[12:16]),
		FlightFlagSize: binary.BigEndian.Uint32(buf[16:20]),
		Type:           ConnType(int32(binary.BigEndian.Uint32(buf[20:24]))),
		SocketID:       binary.BigEndian.Uint32(buf[24:28]),
		SynCookie:      binary.BigEndian.Uint32(buf[28:32]),
		PeerAddr:       netip.AddrFrom16(addrBytes).Unmap(),
	}
	return b, nil
}
