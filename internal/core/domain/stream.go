package domain

import (
	"time"
)

type DeviceID string
type SessionID string
type RequesterID string

// StreamType selects which capture surface the producer device shares.
type StreamType string

const (
	StreamCameraFront StreamType = "camera_front"
	StreamCameraBack  StreamType = "camera_back"
	StreamScreen      StreamType = "screen"
	StreamAudioOnly   StreamType = "audio_only"
)

// AudioSource selects which audio inputs accompany the stream.
type AudioSource string

const (
	AudioSourceNone        AudioSource = "none"
	AudioSourceMicrophone  AudioSource = "microphone"
	AudioSourceDeviceAudio AudioSource = "device_audio"
	AudioSourceBoth        AudioSource = "both"
)

// VideoQuality is a named capture preset.
type VideoQuality string

const (
	VideoQualityLow    VideoQuality = "low"
	VideoQualityMedium VideoQuality = "medium"
	VideoQualityHigh   VideoQuality = "high"
)

// VideoQualityPreset carries the concrete encoder parameters for a preset.
type VideoQualityPreset struct {
	Width     int
	Height    int
	Framerate int
	Bitrate   int // kbps
}

var videoPresets = map[VideoQuality]VideoQualityPreset{
	VideoQualityLow:    {Width: 640, Height: 360, Framerate: 15, Bitrate: 500},
	VideoQualityMedium: {Width: 854, Height: 480, Framerate: 24, Bitrate: 1000},
	VideoQualityHigh:   {Width: 1280, Height: 720, Framerate: 30, Bitrate: 2500},
}

// Preset resolves the encoder parameters for a quality level. Unknown
// levels fall back to medium.
func (q VideoQuality) Preset() VideoQualityPreset {
	if p, ok := videoPresets[q]; ok {
		return p
	}
	return videoPresets[VideoQualityMedium]
}

type AudioQuality string

const (
	AudioQualityVoice AudioQuality = "voice"
	AudioQualityMusic AudioQuality = "music"
)

type AudioQualityPreset struct {
	SampleRate int
	Bitrate    int // kbps
	Channels   int
}

var audioPresets = map[AudioQuality]AudioQualityPreset{
	AudioQualityVoice: {SampleRate: 16000, Bitrate: 24, Channels: 1},
	AudioQualityMusic: {SampleRate: 48000, Bitrate: 96, Channels: 2},
}

func (q AudioQuality) Preset() AudioQualityPreset {
	if p, ok := audioPresets[q]; ok {
		return p
	}
	return audioPresets[AudioQualityVoice]
}

// StreamRequest is the consumer's intent to receive a stream from a
// producer device. The Active flag is the authoritative cancellation
// signal: both sides treat Active=false as immediate teardown.
type StreamRequest struct {
	Type         StreamType   `json:"type"`
	AudioEnabled bool         `json:"audio_enabled"`
	AudioSource  AudioSource  `json:"audio_source"`
	RequestedBy  RequesterID  `json:"requested_by"`
	CreatedAt    time.Time    `json:"created_at"`
	Active       bool         `json:"active"`
	VideoQuality VideoQuality `json:"video_quality"`
	AudioQuality AudioQuality `json:"audio_quality"`
}

// NewStreamRequest builds an active request with defaulted quality presets.
func NewStreamRequest(t StreamType, audioEnabled bool, source AudioSource, requestedBy RequesterID) *StreamRequest {
	if !audioEnabled {
		source = AudioSourceNone
	}
	return &StreamRequest{
		Type:         t,
		AudioEnabled: audioEnabled,
		AudioSource:  source,
		RequestedBy:  requestedBy,
		CreatedAt:    time.Now(),
		Active:       true,
		VideoQuality: VideoQualityMedium,
		AudioQuality: AudioQualityVoice,
	}
}

// Validate checks the audio invariant: a non-none source requires audio
// to be enabled.
func (r *StreamRequest) Validate() error {
	switch r.Type {
	case StreamCameraFront, StreamCameraBack, StreamScreen, StreamAudioOnly:
	default:
		return ErrInvalidStreamType
	}
	if !r.AudioEnabled && r.AudioSource != AudioSourceNone {
		return ErrInvalidAudioConfig
	}
	return nil
}

// NeedsVideo reports whether the request carries a video track.
func (r *StreamRequest) NeedsVideo() bool {
	return r.Type != StreamAudioOnly
}

// NeedsMicrophone reports whether the producer must capture the microphone.
func (r *StreamRequest) NeedsMicrophone() bool {
	return r.AudioEnabled && (r.AudioSource == AudioSourceMicrophone || r.AudioSource == AudioSourceBoth)
}

// NeedsDeviceAudio reports whether the producer must capture device audio.
func (r *StreamRequest) NeedsDeviceAudio() bool {
	return r.AudioEnabled && (r.AudioSource == AudioSourceDeviceAudio || r.AudioSource == AudioSourceBoth)
}
