package ports

import (
	"context"

	"guardlink/internal/core/domain"
)

// CancelFunc detaches a live subscription. After it returns no further
// values are delivered on the subscription's channel and the channel is
// closed. Safe to call more than once.
type CancelFunc func()

// SignalingChannel is the transport-agnostic pub/sub surface over a
// device's signaling subtree. Observe methods return live subscriptions,
// not one-shot fetches: the current value (if any) is delivered first,
// then every later publish, in publish order per entity. No ordering is
// guaranteed between distinct entities.
//
// Slot observers (request, offer, answer, status) deliver nil when the
// slot is removed. Candidate observers deliver the backlog present at
// subscribe time exactly once, then each newly published candidate
// exactly once; candidates are append-only until Clear.
//
// Any call may fail with a channel error (pkg/errors ErrCodeChannel);
// these are retriable and non-fatal, backoff policy is the caller's.
type SignalingChannel interface {
	PublishRequest(ctx context.Context, deviceID domain.DeviceID, req *domain.StreamRequest) error
	ObserveRequest(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamRequest, CancelFunc, error)

	PublishOffer(ctx context.Context, deviceID domain.DeviceID, sdp *domain.SignalingData) error
	ObserveOffer(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.SignalingData, CancelFunc, error)

	PublishAnswer(ctx context.Context, deviceID domain.DeviceID, sdp *domain.SignalingData) error
	ObserveAnswer(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.SignalingData, CancelFunc, error)

	PublishCandidate(ctx context.Context, deviceID domain.DeviceID, dir domain.CandidateDirection, cand domain.IceCandidate) error
	ObserveCandidates(ctx context.Context, deviceID domain.DeviceID, dir domain.CandidateDirection) (<-chan domain.IceCandidate, CancelFunc, error)

	PublishStatus(ctx context.Context, deviceID domain.DeviceID, status *domain.StreamStatus) error
	ObserveStatus(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamStatus, CancelFunc, error)

	// Clear removes the device's entire signaling subtree. Idempotent.
	// Only the requesting side calls it; the request slot is its to
	// remove.
	Clear(ctx context.Context, deviceID domain.DeviceID) error

	// ClearNegotiation removes the negotiation state (offer, answer,
	// status, candidates) but leaves the request slot alone. The
	// producing side tears down with this so it never deletes a request
	// the consumer may just have replaced. Idempotent.
	ClearNegotiation(ctx context.Context, deviceID domain.DeviceID) error
}
