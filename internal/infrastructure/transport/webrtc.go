// Package transport adapts pion/webrtc to the PeerTransport port. One
// Transport wraps one peer connection; sessions never share instances.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
	errs "guardlink/pkg/errors"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the ICE and stats settings shared by all transports of
// one endpoint.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	StatsInterval time.Duration
	Identity      domain.RequesterID
}

// Factory builds one fresh Transport per session from a shared API.
type Factory struct {
	cfg    Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

func NewFactory(cfg Config, logger *zap.SugaredLogger) (*Factory, error) {
	settings := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settings.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 5 * time.Second
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settings))
	return &Factory{cfg: cfg, api: api, logger: logger}, nil
}

var _ ports.TransportFactory = (*Factory)(nil)

func (f *Factory) NewTransport() (ports.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.cfg.ICEServers,
	})
	if err != nil {
		return nil, errs.NewAdapterError("failed to create peer connection", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		pc:            pc,
		identity:      f.cfg.Identity,
		statsInterval: f.cfg.StatsInterval,
		logger:        f.logger,
		statsCtx:      ctx,
		statsCancel:   cancel,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering finished
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn == nil {
			return
		}
		init := c.ToJSON()
		cand := domain.IceCandidate{
			SDPMid:    init.SDPMid,
			Candidate: init.Candidate,
			SentBy:    t.identity,
			Timestamp: time.Now(),
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(cand)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(mapConnectionState(state))
		}
	})

	return t, nil
}

// mapConnectionState maps pion's peer-connection state onto the session
// status vocabulary. Pion's transient "disconnected" is reported as
// reconnecting; ICE may still recover without renegotiation.
func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return domain.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnReconnecting
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnClosed
	default:
		return domain.ConnDisconnected
	}
}

type Transport struct {
	pc            *webrtc.PeerConnection
	identity      domain.RequesterID
	statsInterval time.Duration
	logger        *zap.SugaredLogger

	mu        sync.Mutex
	onICE     func(domain.IceCandidate)
	onState   func(domain.ConnectionState)
	onMetrics func(domain.StreamMetrics)
	senders   []*webrtc.RTPSender

	statsCtx    context.Context
	statsCancel context.CancelFunc
	statsOnce   sync.Once
	closeOnce   sync.Once

	lossMu   sync.Mutex
	lastLoss float64
}

var _ ports.PeerTransport = (*Transport)(nil)

func (t *Transport) OnICECandidate(fn func(domain.IceCandidate)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *Transport) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) OnMetrics(fn func(domain.StreamMetrics)) {
	t.mu.Lock()
	t.onMetrics = fn
	t.mu.Unlock()
}

func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return errs.NewAdapterError("failed to add track", err)
	}
	t.mu.Lock()
	t.senders = append(t.senders, sender)
	t.mu.Unlock()

	// Drain RTCP for this sender; receiver reports feed the loss figure
	// of the metrics loop.
	go t.readRTCP(sender)
	return nil
}

func (t *Transport) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range packets {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				t.lossMu.Lock()
				t.lastLoss = float64(report.FractionLost) / 256.0
				t.lossMu.Unlock()
			}
		}
	}
}

func (t *Transport) newSignalingData(kind domain.SDPType, sdp string) *domain.SignalingData {
	return &domain.SignalingData{
		Type:      kind,
		SDP:       sdp,
		SentBy:    t.identity,
		Timestamp: time.Now(),
	}
}

func (t *Transport) CreateOffer(ctx context.Context) (*domain.SignalingData, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, errs.NewNegotiationError("failed to create offer", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, errs.NewNegotiationError("failed to set local offer", err)
	}
	t.startStatsLoop()
	return t.newSignalingData(domain.SDPOffer, offer.SDP), nil
}

func (t *Transport) CreateAnswer(ctx context.Context, remote *domain.SignalingData) (*domain.SignalingData, error) {
	if remote == nil || remote.Type != domain.SDPOffer {
		return nil, errs.NewNegotiationError("remote description is not an offer", nil)
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remote.SDP,
	}); err != nil {
		return nil, errs.NewNegotiationError("failed to set remote offer", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, errs.NewNegotiationError("failed to create answer", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, errs.NewNegotiationError("failed to set local answer", err)
	}
	t.startStatsLoop()
	return t.newSignalingData(domain.SDPAnswer, answer.SDP), nil
}

func (t *Transport) SetRemoteDescription(ctx context.Context, remote *domain.SignalingData) error {
	if remote == nil || remote.Type != domain.SDPAnswer {
		return errs.NewNegotiationError("remote description is not an answer", nil)
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remote.SDP,
	}); err != nil {
		return errs.NewNegotiationError("failed to set remote answer", err)
	}
	return nil
}

func (t *Transport) AddICECandidate(cand domain.IceCandidate) error {
	idx := cand.SDPMLineIndex
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: &idx,
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return errs.NewNegotiationError("failed to add ICE candidate", err)
	}
	return nil
}

// startStatsLoop samples bitrate from pion's stats report and merges the
// RTCP loss figure into periodic metrics callbacks.
func (t *Transport) startStatsLoop() {
	t.statsOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(t.statsInterval)
			defer ticker.Stop()

			var lastBytes uint64
			var lastSample time.Time

			for {
				select {
				case <-t.statsCtx.Done():
					return
				case now := <-ticker.C:
					t.mu.Lock()
					fn := t.onMetrics
					t.mu.Unlock()
					if fn == nil {
						continue
					}

					var totalBytes uint64
					var rtt time.Duration
					for _, stat := range t.pc.GetStats() {
						switch s := stat.(type) {
						case webrtc.OutboundRTPStreamStats:
							totalBytes += s.BytesSent
						case webrtc.InboundRTPStreamStats:
							totalBytes += s.BytesReceived
						case webrtc.ICECandidatePairStats:
							if s.State == webrtc.StatsICECandidatePairStateSucceeded {
								rtt = time.Duration(s.CurrentRoundTripTime * float64(time.Second))
							}
						}
					}

					metrics := domain.StreamMetrics{RTT: rtt}
					if !lastSample.IsZero() && totalBytes >= lastBytes {
						elapsed := now.Sub(lastSample).Seconds()
						if elapsed > 0 {
							metrics.BitrateKbps = int(float64(totalBytes-lastBytes) * 8 / 1000 / elapsed)
						}
					}
					lastBytes = totalBytes
					lastSample = now

					t.lossMu.Lock()
					metrics.PacketLossRate = t.lastLoss
					t.lossMu.Unlock()

					fn(metrics)
				}
			}
		}()
	})
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.statsCancel()
		t.mu.Lock()
		t.onICE = nil
		t.onState = nil
		t.onMetrics = nil
		t.mu.Unlock()
		if cerr := t.pc.Close(); cerr != nil {
			err = errs.NewAdapterError("failed to close peer connection", cerr)
		}
	})
	return err
}
