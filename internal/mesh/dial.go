package mesh

import "strings"

// ShouldInitiate decides which side of a participant pair starts negotiation:
// the lexicographically smaller id. Both sides evaluate this independently
// after discovering each other (one through the join roster, the other
// through a peer_joined notice) and reach opposite answers, so exactly one of
// them ever sends an offer.
func ShouldInitiate(local, remote string) bool {
	return strings.Compare(local, remote) < 0
}
