package transport

import (
	"context"
	"testing"
	"time"

	"guardlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testFactory(t *testing.T) *Factory {
	t.Helper()
	factory, err := NewFactory(Config{
		ICEServers:    []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		StatsInterval: time.Second,
		Identity:      "test-device",
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return factory
}

func TestMapConnectionState(t *testing.T) {
	tests := []struct {
		in   webrtc.PeerConnectionState
		want domain.ConnectionState
	}{
		{webrtc.PeerConnectionStateNew, domain.ConnConnecting},
		{webrtc.PeerConnectionStateConnecting, domain.ConnConnecting},
		{webrtc.PeerConnectionStateConnected, domain.ConnConnected},
		{webrtc.PeerConnectionStateDisconnected, domain.ConnReconnecting},
		{webrtc.PeerConnectionStateFailed, domain.ConnFailed},
		{webrtc.PeerConnectionStateClosed, domain.ConnClosed},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mapConnectionState(tt.in), tt.in.String())
	}
}

func TestTransportOfferCarriesIdentity(t *testing.T) {
	factory := testFactory(t)

	transport, err := factory.NewTransport()
	require.NoError(t, err)
	defer transport.Close()

	transport.OnICECandidate(func(domain.IceCandidate) {})
	transport.OnConnectionStateChange(func(domain.ConnectionState) {})

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "test",
	)
	require.NoError(t, err)
	require.NoError(t, transport.AddTrack(track))

	offer, err := transport.CreateOffer(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.SDPOffer, offer.Type)
	assert.NotEmpty(t, offer.SDP)
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "VP8")
	assert.Equal(t, domain.RequesterID("test-device"), offer.SentBy)
	assert.False(t, offer.Timestamp.IsZero())
}

func TestTransportAnswerAgainstOffer(t *testing.T) {
	factory := testFactory(t)

	offerer, err := factory.NewTransport()
	require.NoError(t, err)
	defer offerer.Close()
	offerer.OnICECandidate(func(domain.IceCandidate) {})

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "test",
	)
	require.NoError(t, err)
	require.NoError(t, offerer.AddTrack(track))

	offer, err := offerer.CreateOffer(context.Background())
	require.NoError(t, err)

	answerer, err := factory.NewTransport()
	require.NoError(t, err)
	defer answerer.Close()
	answerer.OnICECandidate(func(domain.IceCandidate) {})

	answer, err := answerer.CreateAnswer(context.Background(), offer)
	require.NoError(t, err)
	assert.Equal(t, domain.SDPAnswer, answer.Type)
	assert.NotEmpty(t, answer.SDP)

	require.NoError(t, offerer.SetRemoteDescription(context.Background(), answer))
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	factory := testFactory(t)

	transport, err := factory.NewTransport()
	require.NoError(t, err)

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
}
