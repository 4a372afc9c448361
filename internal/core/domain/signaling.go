package domain

import "time"

// SDPType tags a session description as offer or answer.
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SignalingData is one SDP slot of a session. Exactly one offer and one
// answer exist per session; the offer is overwritten on renegotiation.
type SignalingData struct {
	Type      SDPType     `json:"type"`
	SDP       string      `json:"sdp"`
	SentBy    RequesterID `json:"sent_by"`
	Timestamp time.Time   `json:"timestamp"`
}

// CandidateDirection names which side discovered an ICE candidate.
type CandidateDirection string

const (
	FromProducer CandidateDirection = "from_producer"
	FromConsumer CandidateDirection = "from_consumer"
)

// Opposite returns the direction the peer publishes on.
func (d CandidateDirection) Opposite() CandidateDirection {
	if d == FromProducer {
		return FromConsumer
	}
	return FromProducer
}

// IceCandidate is one entry of a session's append-only candidate
// collections. Individual candidates are never deleted; the whole
// collection goes away with the session subtree. Duplicates are
// tolerated, the ICE layer deduplicates.
type IceCandidate struct {
	SDPMid        *string     `json:"sdp_mid,omitempty"`
	SDPMLineIndex uint16      `json:"sdp_mline_index"`
	Candidate     string      `json:"candidate"`
	SentBy        RequesterID `json:"sent_by"`
	Timestamp     time.Time   `json:"timestamp"`
}
