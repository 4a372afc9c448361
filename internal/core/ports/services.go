package ports

import (
	"context"

	"guardlink/internal/core/domain"
)

// ProducerService runs the child-device side of the coordination: it
// watches the device's request slot and negotiates outbound streams.
type ProducerService interface {
	// Run blocks observing stream requests until ctx is cancelled. The
	// active session, if any, is torn down before Run returns.
	Run(ctx context.Context) error
	// Stop tears down the active session (release media, close
	// transport, publish disconnected, clear subtree). No-op when idle.
	Stop(ctx context.Context) error
}

// ConsumerService runs the parent-device side: it issues stream requests
// and answers the producer's offers.
type ConsumerService interface {
	// RequestStream starts a session against the device. An active
	// session (any device) is fully torn down first: at most one
	// outbound session per coordinator instance.
	RequestStream(ctx context.Context, deviceID domain.DeviceID, req *domain.StreamRequest) error
	// StopStream deactivates the request, tears down the transport and
	// subscriptions, and clears the device's signaling subtree.
	StopStream(ctx context.Context, deviceID domain.DeviceID) error
	// ObserveStatus exposes the device's live status stream to the UI.
	ObserveStatus(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamStatus, CancelFunc, error)
	// Close tears down whatever session is active.
	Close(ctx context.Context) error
}
