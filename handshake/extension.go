package handshake

import (
	"encoding/binary"
	"fmt"
)

// ExtBlockType identifies an extension block's content (spec §3 "Optional
// SRT extension blocks").
type ExtBlockType uint16

const (
	ExtBlockHSREQ ExtBlockType = 1
	ExtBlockHSRSP ExtBlockType = 2
	ExtBlockKMREQ ExtBlockType = 3
	ExtBlockKMRSP ExtBlockType = 4
	ExtBlockGroup ExtBlockType = 5
)

// ExtBlock is one TLV extension block: a 2-byte type, a 2-byte length (in
// 4-byte words), and length*4 bytes of content.
type ExtBlock struct {
	Type    ExtBlockType
	Content []byte
}

// EncodeExtBlocks concatenates blocks into a single byte slice suitable for
// appending after the base handshake Body.
func EncodeExtBlocks(blocks []ExtBlock) []byte {
	n := 0
	for _, b := range blocks {
		n += 4 + len(b.Content)
	}
	dst := make([]byte, n)
	off := 0
	for _, b := range blocks {
		binary.BigEndian.PutUint16(dst[off:off+2], uint16(b.Type))
		binary.BigEndian.PutUint16(dst[off+2:off+4], uint16(len(b.Content)/4))
		copy(dst[off+4:], b.Content)
		off += 4 + len(b.Content)
	}
	return dst
}

// DecodeExtBlocks parses the TLV extension blocks following a handshake
// Body. It stops (without error) at the first malformed or truncated
// trailing block, since extension parsing failures are protocol-local, not
// fatal to the base handshake.
func DecodeExtBlocks(buf []byte) []ExtBlock {
	var out []ExtBlock
	off := 0
	for off+4 <= len(buf) {
		typ := ExtBlockType(binary.BigEndian.Uint16(buf[off : off+2]))
		words := int(binary.BigEndian.Uint16(buf[off+2 : off+4]))
		contentLen := words * 4
		if off+4+contentLen > len(buf) {
			break
		}
		out = append(out, ExtBlock{Type: typ, Content: buf[off+4 : off+4+contentLen]})
		off += 4 + contentLen
	}
	return out
}

// HSReqCaps is the HSREQ/HSRSP extension content: SRT protocol sub-version,
// a capability bitmask, and the sender/receiver TSBPD latencies the side
// sending this block is requesting (spec §4.C).
type HSReqCaps struct {
	SRTVersion     uint32
	Capabilities   Capability
	SendLatencyMs  uint16
	RecvLatencyMs  uint16
}

const hsReqCapsLen = 12

// Capability is a bitmask of optional protocol features negotiated during
// the handshake (spec §4.C "bitwise AND of peer and local capability
// masks").
type Capability uint32

const (
	CapTSBPD          Capability = 1 << 0
	CapPacketFilter   Capability = 1 << 1
	CapStreamID       Capability = 1 << 2
	CapRejectReason   Capability = 1 << 3
	CapGroups         Capability = 1 << 4
	CapFastFailover   Capability = 1 << 5
)

// Encode serializes c as HSREQ/HSRSP extension content.
func (c HSReqCaps) Encode() []byte {
	dst := make([]byte, hsReqCapsLen)
	binary.BigEndian.PutUint32(dst[0:4], c.SRTVersion)
	binary.BigEndian.PutUint32(dst[4:8], uint32(c.Capabilities))
	binary.BigEndian.PutUint16(dst[8:10], c.RecvLatencyMs)
	binary.BigEndian.PutUint16(dst[10:12], c.SendLatencyMs)
	return dst
}

// DecodeHSReqCaps parses HSREQ/HSRSP extension content.
func DecodeHSReqCaps(content []byte) (HSReqCaps, error) {
	if len(content) < hsReqCapsLen {
		return HSReqCaps{}, fmt.Errorf("handshake: HSREQ/HSRSP content too short (%d < %d)", len(content), hsReqCapsLen)
	}
	return HSReqCaps{
		SRTVersion:    binary.BigEndian.Uint32(content[0:4]),
		Capabilities:  Capability(binary.BigEndian.Uint32(content[4:8])),
		RecvLatencyMs: binary.BigEndian.Uint16(content[8:10]),
		SendLatencyMs: binary.BigEndian.Uint16(content[10:12]),
	}, nil
}

// GroupMode mirrors group.Mode without importing the group package (which
// itself imports handshake), so the GROUP extension can name a bonding mode.
type GroupMode uint8

const (
	GroupModeBroadcast GroupMode = 0
	GroupModeBackup    GroupMode = 1
	GroupModeBalancing GroupMode = 2
)

// GroupExt is the GROUP extension content: identifies which bonding group
// (and in what mode) this connection is a member of, so a listener can
// attach an incoming connection to an existing group instead of starting a
// new one.
type GroupExt struct {
	GroupID  uint32
	Mode     GroupMode
	Priority uint8
	Weight   uint16
}

const groupExtLen = 8

func (g GroupExt) Encode() []byte {
	dst := make([]byte, groupExtLen)
	binary.BigEndian.PutUint32(dst[0:4], g.GroupID)
	dst[4] = byte(g.Mode)
	dst[5] = g.Priority
	binary.BigEndian.PutUint16(dst[6:8], g.Weight)
	return dst
}

func DecodeGroupExt(content []byte) (GroupExt, error) {
	if len(content) < groupExtLen {
		return GroupExt{}, fmt.Errorf("handshake: GROUP content too short (%d < %d)", len(content), groupExtLen)
	}
	return GroupExt{
		GroupID:  binary.BigEndian.Uint32(content[0:4]),
		Mode:     GroupMode(content[4]),
		Priority: content[5],
		Weight:   binary.BigEndian.Uint16(content[6:8]),
	}, nil
}

// KMStub is a placeholder KMREQ/KMRSP extension: it carries derived key
// material length and epoch only, never key bytes or a cipher selection.
// Full key-exchange/encryption is future work (spec §1); this exists so the
// reserved extension flag bit and block type have a concrete, testable
// encoding. See DeriveKMMaterial for the key-derivation stub itself.
type KMStub struct {
	KeyLen uint16 // bytes of key material that would be derived (16/24/32)
	Epoch  uint16 // KeyEven/KeyOdd epoch this material would apply to
}

const kmStubLen = 4

func (k KMStub) Encode() []byte {
	dst := make([]byte, kmStubLen)
	binary.BigEndian.PutUint16(dst[0:2], k.KeyLen)
	binary.BigEndian.PutUint16(dst[2:4], k.Epoch)
	return dst
}

func DecodeKMStub(content []byte) (KMStub, error) {
	if len(content) < kmStubLen {
		return KMStub{}, fmt.Errorf("handshake: KMREQ/KMRSP content too short (%d < %d)", len(content), kmStubLen)
	}
	return KMStub{
		KeyLen: binary.BigEndian.Uint16(content[0:2]),
		Epoch:  binary.BigEndian.Uint16(content[2:4]),
	}, nil
}
