package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
	"guardlink/internal/infrastructure/gateway/auth"
	"guardlink/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConsumer struct {
	mu       sync.Mutex
	requests map[domain.DeviceID]*domain.StreamRequest
	stopErr  error
}

var _ ports.ConsumerService = (*fakeConsumer)(nil)

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{requests: make(map[domain.DeviceID]*domain.StreamRequest)}
}

func (f *fakeConsumer) RequestStream(ctx context.Context, deviceID domain.DeviceID, req *domain.StreamRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[deviceID] = req
	return nil
}

func (f *fakeConsumer) StopStream(ctx context.Context, deviceID domain.DeviceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	if _, ok := f.requests[deviceID]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(f.requests, deviceID)
	return nil
}

func (f *fakeConsumer) ObserveStatus(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamStatus, ports.CancelFunc, error) {
	ch := make(chan *domain.StreamStatus)
	return ch, func() { close(ch) }, nil
}

func (f *fakeConsumer) Close(ctx context.Context) error { return nil }

func (f *fakeConsumer) request(deviceID domain.DeviceID) *domain.StreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[deviceID]
}

func newTestServer(t *testing.T) (*Server, *fakeConsumer, auth.TokenService) {
	t.Helper()
	cfg := config.DefaultConfig()
	tokens := auth.NewTokenService("test-secret", time.Minute)
	consumer := newFakeConsumer()
	server := NewServer(cfg, consumer, tokens, zap.NewNop().Sugar())
	return server, consumer, tokens
}

func bearerFor(t *testing.T, tokens auth.TokenService, devices []string) string {
	t.Helper()
	token, err := tokens.GenerateToken("parent-1", devices)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	server.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestStreamRequiresAuth(t *testing.T) {
	server, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"type":"camera_front"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/device-a/stream", body)

	rec := httptest.NewRecorder()
	server.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestStream(t *testing.T) {
	server, consumer, tokens := newTestServer(t)

	body := bytes.NewBufferString(`{
		"type": "camera_front",
		"audio_enabled": true,
		"audio_source": "microphone",
		"video_quality": "high"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/device-a/stream", body)
	req.Header.Set("Authorization", bearerFor(t, tokens, nil))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	stored := consumer.request("device-a")
	require.NotNil(t, stored)
	assert.Equal(t, domain.StreamCameraFront, stored.Type)
	assert.Equal(t, domain.RequesterID("parent-1"), stored.RequestedBy)
	assert.Equal(t, domain.VideoQualityHigh, stored.VideoQuality)
	assert.True(t, stored.Active)
}

func TestRequestStreamRejectsUnpairedDevice(t *testing.T) {
	server, _, tokens := newTestServer(t)

	body := bytes.NewBufferString(`{"type":"camera_front"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/device-b/stream", body)
	req.Header.Set("Authorization", bearerFor(t, tokens, []string{"device-a"}))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestStreamRejectsMissingType(t *testing.T) {
	server, _, tokens := newTestServer(t)

	body := bytes.NewBufferString(`{"audio_enabled":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/device-a/stream", body)
	req.Header.Set("Authorization", bearerFor(t, tokens, nil))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_INPUT", resp["error"])
}

func TestStopStream(t *testing.T) {
	server, consumer, tokens := newTestServer(t)

	require.NoError(t, consumer.RequestStream(context.Background(), "device-a",
		domain.NewStreamRequest(domain.StreamScreen, false, domain.AudioSourceNone, "parent-1")))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/devices/device-a/stream", nil)
	req.Header.Set("Authorization", bearerFor(t, tokens, nil))

	rec := httptest.NewRecorder()
	server.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, consumer.request("device-a"))
}

func TestStopStreamWithoutSession(t *testing.T) {
	server, _, tokens := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/devices/device-a/stream", nil)
	req.Header.Set("Authorization", bearerFor(t, tokens, nil))

	rec := httptest.NewRecorder()
	server.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebsocketAuthViaQueryToken(t *testing.T) {
	server, _, tokens := newTestServer(t)

	token, err := tokens.GenerateToken("parent-1", nil)
	require.NoError(t, err)

	// Not a websocket handshake, so the upgrade fails, but auth must
	// already have passed; a bad token short-circuits with 401 instead.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/device-a/status?token="+token, nil)
	rec := httptest.NewRecorder()
	server.engine.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/device-a/status?token=garbage", nil)
	rec = httptest.NewRecorder()
	server.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
