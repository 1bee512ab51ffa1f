package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"net/netip"

	"golang.org/x/crypto/blake2b"
)

// cookieEpochSeconds is the width of a cookie validity window (spec §4.C: "time/64s").
const cookieEpochSeconds = 64

// CookieJar computes and validates listener-side SYN cookies (spec §4.C):
// a stateless token so the listener need not allocate connection state
// before the caller proves it owns the claimed source address.
//
// Rejection on mismatch must be silent (spec §4.C): callers should simply
// drop the conclusion handshake rather than reply with an error.
type CookieJar struct {
	secret [32]byte
}

// NewCookieJar seeds a CookieJar from crypto/rand. Use NewCookieJarFromSeed
// in tests that need a deterministic jar.
func NewCookieJar() (*CookieJar, error) {
	var secret [32]byte
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return nil, err
	}
	return &CookieJar{secret: secret}, nil
}

// NewCookieJarFromSeed builds a deterministic CookieJar for tests.
func NewCookieJarFromSeed(seed [32]byte) *CookieJar {
	return &CookieJar{secret: seed}
}

// Make computes the SYN cookie for a caller at addr at epoch nowUnixSeconds.
func (j *CookieJar) Make(addr netip.AddrPort, nowUnixSeconds int64) uint32 {
	return j.hash(addr, nowUnixSeconds/cookieEpochSeconds)
}

// Validate reports whether cookie is a value Make could have produced for
// addr within the current or immediately preceding epoch (to tolerate a
// cookie computed just before an epoch boundary).
func (j *CookieJar) Validate(addr netip.AddrPort, nowUnixSeconds int64, cookie uint32) bool {
	epoch := nowUnixSeconds / cookieEpochSeconds
	return cookie == j.hash(addr, epoch) || cookie == j.hash(addr, epoch-1)
}

func (j *CookieJar) hash(addr netip.AddrPort, epoch int64) uint32 {
	h, _ := blake2b.New256(j.secret[:])
	a16 := addr.Addr().As16()
	h.Write(a16[:])
	var portEpoch [10]byte
	binary.BigEndian.PutUint16(portEpoch[0:2], addr.Port())
	binary.BigEndian.PutUint64(portEpoch[2:10], uint64(epoch))
	h.Write(portEpoch[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}
