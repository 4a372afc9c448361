package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusConstructors(t *testing.T) {
	req := NewStreamRequest(StreamCameraFront, true, AudioSourceMicrophone, "parent-1")

	disconnected := DisconnectedStatus()
	assert.False(t, disconnected.Streaming)
	assert.Equal(t, ConnDisconnected, disconnected.State)
	assert.True(t, disconnected.Valid())

	connecting := ConnectingStatus(req)
	require.NotNil(t, connecting.Type)
	assert.Equal(t, StreamCameraFront, *connecting.Type)
	assert.False(t, connecting.Streaming)
	assert.True(t, connecting.Valid())

	started := time.Now()
	streaming := StreamingStatus(req, started)
	assert.True(t, streaming.Streaming)
	assert.Equal(t, ConnConnected, streaming.State)
	require.NotNil(t, streaming.StartedAt)
	assert.True(t, streaming.StartedAt.Equal(started))
	assert.True(t, streaming.Valid())

	failed := FailedStatus("camera busy")
	assert.Equal(t, ConnFailed, failed.State)
	assert.Equal(t, "camera busy", failed.Error)
	assert.True(t, failed.Valid())
}

func TestStatusValidRejectsStreamingWithoutConnection(t *testing.T) {
	status := &StreamStatus{Streaming: true, State: ConnConnecting}
	assert.False(t, status.Valid())

	status.State = ConnConnected
	assert.False(t, status.Valid(), "streaming without a start time is invalid")

	now := time.Now()
	status.StartedAt = &now
	assert.True(t, status.Valid())
}

func TestCandidateDirectionOpposite(t *testing.T) {
	assert.Equal(t, FromConsumer, FromProducer.Opposite())
	assert.Equal(t, FromProducer, FromConsumer.Opposite())
}
