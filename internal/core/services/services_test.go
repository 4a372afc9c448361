package services

import (
	"context"
	"sync"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// fakeTransport records negotiation calls and lets tests drive the
// callbacks a real peer connection would fire.
type fakeTransport struct {
	mu sync.Mutex

	onCandidate func(domain.IceCandidate)
	onConnState func(domain.ConnectionState)
	onMetrics   func(domain.StreamMetrics)

	offerCreated  bool
	answerCreated bool
	remoteDescs   []*domain.SignalingData
	candidates    []domain.IceCandidate
	tracks        int
	closed        bool

	createOfferErr  error
	createAnswerErr error
}

var _ ports.PeerTransport = (*fakeTransport)(nil)

func (f *fakeTransport) CreateOffer(ctx context.Context) (*domain.SignalingData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createOfferErr != nil {
		return nil, f.createOfferErr
	}
	f.offerCreated = true
	return &domain.SignalingData{Type: domain.SDPOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context, remote *domain.SignalingData) (*domain.SignalingData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAnswerErr != nil {
		return nil, f.createAnswerErr
	}
	f.answerCreated = true
	f.remoteDescs = append(f.remoteDescs, remote)
	return &domain.SignalingData{Type: domain.SDPAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(ctx context.Context, remote *domain.SignalingData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, remote)
	return nil
}

func (f *fakeTransport) AddICECandidate(cand domain.IceCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, cand)
	return nil
}

func (f *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks++
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(domain.IceCandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnState = fn
}

func (f *fakeTransport) OnMetrics(fn func(domain.StreamMetrics)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMetrics = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) fireConnState(state domain.ConnectionState) {
	f.mu.Lock()
	fn := f.onConnState
	f.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (f *fakeTransport) fireMetrics(m domain.StreamMetrics) {
	f.mu.Lock()
	fn := f.onMetrics
	f.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (f *fakeTransport) fireCandidate(cand domain.IceCandidate) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) remoteDescCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remoteDescs)
}

func (f *fakeTransport) appliedCandidates() []domain.IceCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.IceCandidate, len(f.candidates))
	copy(out, f.candidates)
	return out
}

// fakeFactory hands out fake transports and remembers them in creation
// order so tests can inspect each session's transport.
type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
}

var _ ports.TransportFactory = (*fakeFactory)(nil)

func (f *fakeFactory) NewTransport() (ports.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.transports) {
		return nil
	}
	return f.transports[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

// fakeMedia hands out no tracks unless configured and counts the
// acquire/release pairing.
type fakeMedia struct {
	mu         sync.Mutex
	acquireErr error
	acquired   int
	released   int
	held       bool
}

var _ ports.MediaSource = (*fakeMedia)(nil)

func (m *fakeMedia) Acquire(ctx context.Context, req *domain.StreamRequest) ([]webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.acquired++
	m.held = true

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "test",
	)
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{track}, nil
}

func (m *fakeMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		m.released++
		m.held = false
	}
}

func (m *fakeMedia) releaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
