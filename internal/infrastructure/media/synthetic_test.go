package media

import (
	"context"
	"testing"

	"guardlink/internal/core/domain"
	errs "guardlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAcquireTracksForRequest(t *testing.T) {
	tests := []struct {
		name       string
		streamType domain.StreamType
		audio      bool
		source     domain.AudioSource
		wantTracks int
	}{
		{"video only", domain.StreamCameraFront, false, domain.AudioSourceNone, 1},
		{"video and mic", domain.StreamCameraBack, true, domain.AudioSourceMicrophone, 2},
		{"screen with device audio", domain.StreamScreen, true, domain.AudioSourceDeviceAudio, 2},
		{"audio only", domain.StreamAudioOnly, true, domain.AudioSourceMicrophone, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewSyntheticSource(zap.NewNop().Sugar())
			req := domain.NewStreamRequest(tt.streamType, tt.audio, tt.source, "parent-1")

			tracks, err := src.Acquire(context.Background(), req)
			require.NoError(t, err)
			assert.Len(t, tracks, tt.wantTracks)

			src.Release()
		})
	}
}

func TestAcquireTwiceFails(t *testing.T) {
	src := NewSyntheticSource(zap.NewNop().Sugar())
	req := domain.NewStreamRequest(domain.StreamCameraFront, false, domain.AudioSourceNone, "parent-1")

	_, err := src.Acquire(context.Background(), req)
	require.NoError(t, err)
	defer src.Release()

	_, err = src.Acquire(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, errs.ErrCodeConflict, errs.CodeOf(err))
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	src := NewSyntheticSource(zap.NewNop().Sugar())
	req := domain.NewStreamRequest(domain.StreamAudioOnly, true, domain.AudioSourceMicrophone, "parent-1")

	_, err := src.Acquire(context.Background(), req)
	require.NoError(t, err)
	src.Release()

	_, err = src.Acquire(context.Background(), req)
	require.NoError(t, err)
	src.Release()
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	src := NewSyntheticSource(zap.NewNop().Sugar())
	src.Release()
	src.Release()
}
