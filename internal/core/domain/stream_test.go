package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStreamRequest(t *testing.T) {
	req := NewStreamRequest(StreamCameraFront, true, AudioSourceMicrophone, "parent-1")

	assert.Equal(t, StreamCameraFront, req.Type)
	assert.True(t, req.Active)
	assert.True(t, req.AudioEnabled)
	assert.Equal(t, AudioSourceMicrophone, req.AudioSource)
	assert.Equal(t, VideoQualityMedium, req.VideoQuality)
	assert.False(t, req.CreatedAt.IsZero())
	require.NoError(t, req.Validate())
}

func TestNewStreamRequestDisabledAudioForcesNoSource(t *testing.T) {
	req := NewStreamRequest(StreamScreen, false, AudioSourceBoth, "parent-1")

	assert.Equal(t, AudioSourceNone, req.AudioSource)
	require.NoError(t, req.Validate())
}

func TestStreamRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StreamRequest)
		wantErr error
	}{
		{
			name:   "valid camera request",
			mutate: func(r *StreamRequest) {},
		},
		{
			name:    "unknown stream type",
			mutate:  func(r *StreamRequest) { r.Type = "thermal" },
			wantErr: ErrInvalidStreamType,
		},
		{
			name: "audio source without audio enabled",
			mutate: func(r *StreamRequest) {
				r.AudioEnabled = false
				r.AudioSource = AudioSourceMicrophone
			},
			wantErr: ErrInvalidAudioConfig,
		},
		{
			name: "audio only with device audio",
			mutate: func(r *StreamRequest) {
				r.Type = StreamAudioOnly
				r.AudioSource = AudioSourceDeviceAudio
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewStreamRequest(StreamCameraBack, true, AudioSourceMicrophone, "parent-1")
			tt.mutate(req)

			err := req.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStreamRequestMediaNeeds(t *testing.T) {
	tests := []struct {
		name       string
		streamType StreamType
		audio      bool
		source     AudioSource
		wantVideo  bool
		wantMic    bool
		wantDevice bool
	}{
		{"camera with mic", StreamCameraFront, true, AudioSourceMicrophone, true, true, false},
		{"screen with device audio", StreamScreen, true, AudioSourceDeviceAudio, true, false, true},
		{"screen with both", StreamScreen, true, AudioSourceBoth, true, true, true},
		{"audio only", StreamAudioOnly, true, AudioSourceMicrophone, false, true, false},
		{"silent camera", StreamCameraBack, false, AudioSourceNone, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewStreamRequest(tt.streamType, tt.audio, tt.source, "parent-1")

			assert.Equal(t, tt.wantVideo, req.NeedsVideo())
			assert.Equal(t, tt.wantMic, req.NeedsMicrophone())
			assert.Equal(t, tt.wantDevice, req.NeedsDeviceAudio())
		})
	}
}

func TestWireJSONKeepsEveryField(t *testing.T) {
	created := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	started := created.Add(2 * time.Second)
	mid := "0"
	streamType := StreamScreen

	req := StreamRequest{
		Type:         StreamScreen,
		AudioEnabled: true,
		AudioSource:  AudioSourceBoth,
		RequestedBy:  "parent-1",
		CreatedAt:    created,
		Active:       true,
		VideoQuality: VideoQualityHigh,
		AudioQuality: AudioQualityVoice,
	}
	status := StreamStatus{
		Streaming:    true,
		Type:         &streamType,
		AudioEnabled: true,
		AudioSource:  AudioSourceBoth,
		State:        ConnConnected,
		StartedAt:    &started,
		Metrics:      &StreamMetrics{BitrateKbps: 2500, Framerate: 30, RTT: 40 * time.Millisecond, PacketLossRate: 0.01},
	}
	candidate := IceCandidate{
		SDPMid:        &mid,
		SDPMLineIndex: 1,
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.10 54321 typ host",
		SentBy:        "child-device",
		Timestamp:     created,
	}

	var gotReq StreamRequest
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &gotReq))
	assert.Equal(t, req, gotReq)

	var gotStatus StreamStatus
	data, err = json.Marshal(status)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &gotStatus))
	assert.Equal(t, status, gotStatus)

	var gotCandidate IceCandidate
	data, err = json.Marshal(candidate)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &gotCandidate))
	assert.Equal(t, candidate, gotCandidate)
}

func TestVideoQualityPreset(t *testing.T) {
	high := VideoQualityHigh.Preset()
	assert.Equal(t, 1280, high.Width)
	assert.Equal(t, 30, high.Framerate)

	// Unknown preset falls back to medium.
	unknown := VideoQuality("ultra").Preset()
	assert.Equal(t, VideoQualityMedium.Preset(), unknown)
}
