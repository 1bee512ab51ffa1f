package handshake

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKMMaterial derives the key material that a future encryption layer would
// consume, from the negotiated handshake secret (cookie and both ISNs).
// It never selects a cipher and the derived bytes are never used for
// anything in this spec: encryption is future work (spec §1). This exists
// so the reserved KMREQ/KMRSP extension has a concrete, testable
// counterpart on the Go side.
func DeriveKMMaterial(synCookie uint32, callerISN, listenerISN uint32, keyLen int) ([]byte, error) {
	var ikm [12]byte
	ikm[0] = byte(synCookie >> 24)
	ikm[1] = byte(synCookie >> 16)
	ikm[2] = byte(synCookie >> 8)
	ikm[3] = byte(synCookie)
	ikm[4] = byte(callerISN >> 24)
	ikm[5] = byte(callerISN >> 16)
	ikm[6] = byte(callerISN >> 8)
	ikm[7] = byte(callerISN)
	ikm[8] = byte(listenerISN >> 24)
	ikm[9] = byte(listenerISN >> 16)
	ikm[10] = byte(listenerISN >> 8)
	ikm[11] = byte(listenerISN)

	r := hkdf.New(sha256.New, ikm[:], nil, []byte("srt-km-material"))
	out := make([]byte, keyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
