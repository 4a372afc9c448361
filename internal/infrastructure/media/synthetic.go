package media

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
	errs "guardlink/pkg/errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	videoClockRate = 90000
	audioClockRate = 48000
	audioFrameTime = 20 * time.Millisecond
)

// SyntheticSource produces placeholder VP8 and Opus tracks that carry
// dummy RTP payloads at the requested cadence. It stands in for real
// capture hardware so that negotiation, track wiring, and metrics can run
// end to end on machines without a camera.
type SyntheticSource struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ports.MediaSource = (*SyntheticSource)(nil)

func NewSyntheticSource(logger *zap.SugaredLogger) *SyntheticSource {
	return &SyntheticSource{logger: logger}
}

// Acquire builds the tracks the request calls for and starts their RTP
// pumps. A second Acquire without an intervening Release is an error.
func (s *SyntheticSource) Acquire(ctx context.Context, req *domain.StreamRequest) ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, errs.NewConflictError("media source already acquired")
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	var tracks []webrtc.TrackLocal

	if req.NeedsVideo() {
		video, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
			"video", "guardlink-"+string(req.Type),
		)
		if err != nil {
			cancel()
			return nil, errs.NewMediaError("failed to create video track", err)
		}
		preset := req.VideoQuality.Preset()
		s.wg.Add(1)
		go s.pumpVideo(pumpCtx, video, preset)
		tracks = append(tracks, video)
	}

	if req.NeedsMicrophone() || req.NeedsDeviceAudio() {
		audio, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audioClockRate, Channels: 2},
			"audio", "guardlink-"+string(req.AudioSource),
		)
		if err != nil {
			cancel()
			return nil, errs.NewMediaError("failed to create audio track", err)
		}
		s.wg.Add(1)
		go s.pumpAudio(pumpCtx, audio)
		tracks = append(tracks, audio)
	}

	if len(tracks) == 0 {
		cancel()
		return nil, errs.NewMediaError("request selects no media", nil)
	}

	s.cancel = cancel
	s.logger.Infow("synthetic media acquired",
		"stream_type", req.Type,
		"tracks", len(tracks),
	)
	return tracks, nil
}

// Release stops the pumps and waits for them to drain.
func (s *SyntheticSource) Release() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Debugw("synthetic media released")
}

func (s *SyntheticSource) pumpVideo(ctx context.Context, track *webrtc.TrackLocalStaticRTP, preset domain.VideoQualityPreset) {
	defer s.wg.Done()

	frameInterval := time.Second / time.Duration(preset.Framerate)
	// Bytes per frame at the preset bitrate, minus a nominal header slice.
	payloadSize := preset.Bitrate * 1000 / 8 / preset.Framerate
	if payloadSize > 1200 {
		payloadSize = 1200
	}

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SSRC:           rand.Uint32(),
			SequenceNumber: uint16(rand.Intn(1 << 16)),
		},
		Payload: make([]byte, payloadSize),
	}
	ticksPerFrame := uint32(videoClockRate / preset.Framerate)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pkt.Header.SequenceNumber++
			pkt.Header.Timestamp += ticksPerFrame
			pkt.Header.Marker = true
			if err := track.WriteRTP(pkt); err != nil {
				s.logger.Debugw("video pump write", "error", err)
			}
		}
	}
}

func (s *SyntheticSource) pumpAudio(ctx context.Context, track *webrtc.TrackLocalStaticRTP) {
	defer s.wg.Done()

	ticker := time.NewTicker(audioFrameTime)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SSRC:           rand.Uint32(),
			SequenceNumber: uint16(rand.Intn(1 << 16)),
		},
		Payload: make([]byte, 160),
	}
	ticksPerFrame := uint32(audioClockRate / int(time.Second/audioFrameTime))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pkt.Header.SequenceNumber++
			pkt.Header.Timestamp += ticksPerFrame
			if err := track.WriteRTP(pkt); err != nil {
				s.logger.Debugw("audio pump write", "error", err)
			}
		}
	}
}
