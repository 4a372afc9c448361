package ports

import (
	"context"

	"guardlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerTransport wraps one peer-connection for one session. Instances are
// single-use: a new session gets a fresh transport. Implementations must
// be safe to call from multiple goroutines; the coordinators serialize
// negotiation calls through a per-session loop regardless.
type PeerTransport interface {
	// CreateOffer produces the local offer and starts ICE gathering.
	CreateOffer(ctx context.Context) (*domain.SignalingData, error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(ctx context.Context, remote *domain.SignalingData) (*domain.SignalingData, error)
	// SetRemoteDescription applies the peer's answer.
	SetRemoteDescription(ctx context.Context, remote *domain.SignalingData) error
	// AddICECandidate feeds a remote candidate. Late or duplicate
	// candidates must not error.
	AddICECandidate(cand domain.IceCandidate) error
	// AddTrack attaches a local media track before the offer is created.
	AddTrack(track webrtc.TrackLocal) error

	// OnICECandidate registers the local candidate callback. Must be set
	// before CreateOffer/CreateAnswer.
	OnICECandidate(fn func(domain.IceCandidate))
	// OnConnectionStateChange registers the connection-state callback.
	OnConnectionStateChange(fn func(domain.ConnectionState))
	// OnMetrics registers the periodic RTCP-derived metrics callback.
	// Optional; implementations without a stats loop never call it.
	OnMetrics(fn func(domain.StreamMetrics))

	Close() error
}

// TransportFactory builds a fresh PeerTransport per session.
type TransportFactory interface {
	NewTransport() (PeerTransport, error)
}

// MediaSource supplies local capture tracks to the producer's transport.
// External collaborator; the synthetic implementation under
// internal/infrastructure/media exists for development only.
type MediaSource interface {
	// Acquire returns the tracks matching the request's stream type and
	// audio configuration.
	Acquire(ctx context.Context, req *domain.StreamRequest) ([]webrtc.TrackLocal, error)
	// Release frees capture resources. Idempotent.
	Release()
}
