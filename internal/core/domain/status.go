package domain

import "time"

// ConnectionState mirrors the transport's peer-connection state.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnFailed       ConnectionState = "failed"
	ConnClosed       ConnectionState = "closed"
	ConnReconnecting ConnectionState = "reconnecting"
)

// StreamMetrics are the optional live figures attached to a streaming
// status update, derived from the transport's RTCP feedback.
type StreamMetrics struct {
	BitrateKbps    int           `json:"bitrate_kbps"`
	Framerate      int           `json:"framerate"`
	RTT            time.Duration `json:"rtt"`
	PacketLossRate float64       `json:"packet_loss_rate"`
}

// StreamStatus is the single source of truth for the UI and for the
// peer coordinator. Invariant: Streaming=true implies
// State=ConnConnected and StartedAt set.
type StreamStatus struct {
	Streaming    bool            `json:"streaming"`
	Type         *StreamType     `json:"type,omitempty"`
	AudioEnabled bool            `json:"audio_enabled"`
	AudioSource  AudioSource     `json:"audio_source"`
	State        ConnectionState `json:"state"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	Error        string          `json:"error,omitempty"`
	Metrics      *StreamMetrics  `json:"metrics,omitempty"`
}

// DisconnectedStatus is the terminal status published on clean teardown.
func DisconnectedStatus() *StreamStatus {
	return &StreamStatus{
		State:       ConnDisconnected,
		AudioSource: AudioSourceNone,
	}
}

// ConnectingStatus reports an in-flight negotiation for a request.
func ConnectingStatus(req *StreamRequest) *StreamStatus {
	t := req.Type
	return &StreamStatus{
		Type:         &t,
		AudioEnabled: req.AudioEnabled,
		AudioSource:  req.AudioSource,
		State:        ConnConnecting,
	}
}

// StreamingStatus reports an established session.
func StreamingStatus(req *StreamRequest, startedAt time.Time) *StreamStatus {
	t := req.Type
	return &StreamStatus{
		Streaming:    true,
		Type:         &t,
		AudioEnabled: req.AudioEnabled,
		AudioSource:  req.AudioSource,
		State:        ConnConnected,
		StartedAt:    &startedAt,
	}
}

// FailedStatus reports a fatal session error. Failed sessions are not
// retried; the consumer issues a fresh request.
func FailedStatus(msg string) *StreamStatus {
	return &StreamStatus{
		State:       ConnFailed,
		AudioSource: AudioSourceNone,
		Error:       msg,
	}
}

// Valid checks the streaming invariant.
func (s *StreamStatus) Valid() bool {
	if s.Streaming {
		return s.State == ConnConnected && s.StartedAt != nil
	}
	return true
}
