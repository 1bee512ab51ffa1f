package handshake

import "github.com/multipathsrt/srt/seq"

// IsRendezvousCookieIssuer resolves which side of a simultaneous rendezvous
// handshake (connection type 0) acts as the cookie-issuing side for the
// remainder of the exchange, using sequence-arithmetic comparison of the two
// induction-shaped packets both sides send (spec §3 "added" rendezvous
// note): the side with the lower own-ISN issues the cookie.
//
// localISN and peerISN must be comparable (seq.Value.IsComparable); this is
// guaranteed in practice since both are freshly chosen random 31-bit values
// from sides that just exchanged induction packets within one RTT.
func IsRendezvousCookieIssuer(localISN, peerISN seq.Value) bool {
	if localISN == peerISN {
		// Degenerate tie: break deterministically so both sides agree.
		return false
	}
	return localISN.Less(peerISN)
}
