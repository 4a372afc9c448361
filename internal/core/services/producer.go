package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
	errs "guardlink/pkg/errors"
	"guardlink/pkg/retry"
	"guardlink/pkg/utils"

	"go.uber.org/zap"
)

const roleProducer = "producer"

// ProducerConfig parameterizes the child-device coordinator.
type ProducerConfig struct {
	DeviceID       domain.DeviceID
	Identity       domain.RequesterID
	AnswerTimeout  time.Duration
	StatusInterval time.Duration
	PublishRetry   retry.Config
}

func (c *ProducerConfig) applyDefaults() {
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = 30 * time.Second
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 5 * time.Second
	}
	if c.PublishRetry.MaxAttempts == 0 {
		c.PublishRetry = retry.DefaultConfig()
	}
	if c.PublishRetry.RetryIf == nil {
		c.PublishRetry.RetryIf = errs.IsChannelError
	}
}

// Producer owns the child-device side of the coordination: it watches
// the device's request slot, acquires media, offers, and relays ICE.
// At most one session is live; a newer request supersedes the current
// one after full teardown.
type Producer struct {
	cfg        ProducerConfig
	channel    ports.SignalingChannel
	transports ports.TransportFactory
	media      ports.MediaSource
	metrics    Metrics
	logger     *zap.SugaredLogger

	mu   sync.Mutex
	sess *producerSession
}

func NewProducer(
	cfg ProducerConfig,
	channel ports.SignalingChannel,
	transports ports.TransportFactory,
	media ports.MediaSource,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *Producer {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Producer{
		cfg:        cfg,
		channel:    channel,
		transports: transports,
		media:      media,
		metrics:    metrics,
		logger:     logger,
	}
}

var _ ports.ProducerService = (*Producer)(nil)

// Run observes the device's request slot until ctx is cancelled. The
// subscription is live: a request changing type or going inactive
// mid-session is handled the same as a first-time publish.
func (p *Producer) Run(ctx context.Context) error {
	requests, cancel, err := p.channel.ObserveRequest(ctx, p.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to observe stream requests: %w", err)
	}
	defer cancel()

	p.logger.Infow("producer coordinator running", "device_id", p.cfg.DeviceID)

	for {
		select {
		case <-ctx.Done():
			p.teardown(true)
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				p.teardown(true)
				return nil
			}
			p.handleRequest(ctx, req)
		}
	}
}

// Stop tears down the active session, publishing a disconnected status
// and clearing the negotiation state. No-op when idle.
func (p *Producer) Stop(ctx context.Context) error {
	p.teardown(true)
	return nil
}

func (p *Producer) teardown(clear bool) {
	p.mu.Lock()
	sess := p.sess
	p.sess = nil
	p.mu.Unlock()
	if sess != nil {
		sess.stop(clear)
	}
}

func (p *Producer) handleRequest(ctx context.Context, req *domain.StreamRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Active=false (or a removed slot) is the authoritative cancellation
	// signal regardless of any other session state.
	if req == nil || !req.Active {
		if p.sess != nil {
			p.logger.Infow("stream request cancelled", "device_id", p.cfg.DeviceID)
			sess := p.sess
			p.sess = nil
			sess.stop(true)
		}
		return
	}

	if p.sess != nil {
		if sameRequest(p.sess.req, req) {
			return
		}
		// Supersede: the incoming request already overwrote the slot, so
		// the old session goes away without clearing the subtree.
		p.logger.Infow("stream request superseded",
			"device_id", p.cfg.DeviceID,
			"type", req.Type,
		)
		sess := p.sess
		p.sess = nil
		sess.stop(false)
	}

	if err := req.Validate(); err != nil {
		p.logger.Warnw("rejecting invalid stream request",
			"device_id", p.cfg.DeviceID,
			"error", err,
		)
		p.publishBestEffort(domain.FailedStatus(err.Error()))
		return
	}

	sess := newProducerSession(p, req)
	p.sess = sess
	p.metrics.SessionStarted(roleProducer)
	go sess.run()
}

func (p *Producer) publishBestEffort(status *domain.StreamStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.channel.PublishStatus(ctx, p.cfg.DeviceID, status); err != nil {
		p.logger.Warnw("failed to publish status", "device_id", p.cfg.DeviceID, "error", err)
	}
}

// producerSession is one negotiation attempt. Its run loop is the single
// ordering point for transport calls; every asynchronous input arrives
// as a sessionEvent.
type producerSession struct {
	p   *Producer
	id  string
	req *domain.StreamRequest

	ctx    context.Context
	cancel context.CancelFunc
	events chan sessionEvent
	done   chan struct{}
	wg     sync.WaitGroup
	subs   subscriptionSet
	gate   publishGate

	transport ports.PeerTransport
	mediaHeld bool
	buffer    candidateBuffer
	state     SessionState
	createdAt time.Time
	startedAt time.Time

	stopOnce    sync.Once
	releaseOnce sync.Once
}

func newProducerSession(p *Producer, req *domain.StreamRequest) *producerSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &producerSession{
		p:         p,
		id:        utils.GenerateSessionID(),
		req:       req,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan sessionEvent, 16),
		done:      make(chan struct{}),
		state:     StateIdle,
		createdAt: time.Now(),
	}
}

func (s *producerSession) setState(state SessionState) {
	s.state = state
	s.p.metrics.StateTransition(roleProducer, string(state))
	s.p.logger.Debugw("producer session state",
		"device_id", s.p.cfg.DeviceID,
		"session_id", s.id,
		"state", state,
	)
}

func (s *producerSession) publish(fn func(ctx context.Context) error) error {
	return retry.Retry(s.ctx, s.p.cfg.PublishRetry, func() error {
		return fn(s.ctx)
	})
}

func (s *producerSession) run() {
	defer close(s.done)

	err := s.negotiate()
	if err != nil && s.ctx.Err() == nil {
		s.fail(err)
	}
}

func (s *producerSession) negotiate() error {
	deviceID := s.p.cfg.DeviceID

	s.setState(StateAwaitingMedia)
	if err := s.publish(func(ctx context.Context) error {
		return s.p.channel.PublishStatus(ctx, deviceID, domain.ConnectingStatus(s.req))
	}); err != nil {
		return err
	}

	tracks, err := s.p.media.Acquire(s.ctx, s.req)
	if err != nil {
		return errs.NewMediaError("failed to acquire media", err)
	}
	s.mediaHeld = true

	transport, err := s.p.transports.NewTransport()
	if err != nil {
		return err
	}
	s.transport = transport

	transport.OnICECandidate(s.onLocalCandidate)
	transport.OnConnectionStateChange(func(state domain.ConnectionState) {
		s.pushEvent(sessionEvent{connState: &state})
	})
	transport.OnMetrics(func(m domain.StreamMetrics) {
		s.pushEvent(sessionEvent{metrics: &m})
	})

	for _, track := range tracks {
		if err := transport.AddTrack(track); err != nil {
			return err
		}
	}

	offer, err := transport.CreateOffer(s.ctx)
	if err != nil {
		return err
	}
	if err := s.publish(func(ctx context.Context) error {
		return s.p.channel.PublishOffer(ctx, deviceID, offer)
	}); err != nil {
		return err
	}
	s.setState(StateOfferSent)

	answers, cancelAnswers, err := s.p.channel.ObserveAnswer(s.ctx, deviceID)
	if err != nil {
		return err
	}
	s.subs.Add(cancelAnswers)
	forward(&s.wg, answers, s.ctx.Done(), s.events, func(sdp *domain.SignalingData) sessionEvent {
		return sessionEvent{sdp: sdp}
	})

	candidates, cancelCandidates, err := s.p.channel.ObserveCandidates(s.ctx, deviceID, domain.FromConsumer)
	if err != nil {
		return err
	}
	s.subs.Add(cancelCandidates)
	forward(&s.wg, candidates, s.ctx.Done(), s.events, func(c domain.IceCandidate) sessionEvent {
		return sessionEvent{candidate: &c}
	})

	return s.loop()
}

func (s *producerSession) loop() error {
	deviceID := s.p.cfg.DeviceID
	timer := time.NewTimer(s.p.cfg.AnswerTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil

		case <-timer.C:
			if s.state != StateConnected {
				return errs.NewNegotiationError(
					fmt.Sprintf("no answer within %s", s.p.cfg.AnswerTimeout),
					domain.ErrNegotiationTimeout,
				)
			}

		case ev := <-s.events:
			switch {
			case ev.sdp != nil:
				if ev.sdp.Type != domain.SDPAnswer {
					continue
				}
				if err := s.transport.SetRemoteDescription(s.ctx, ev.sdp); err != nil {
					return err
				}
				for _, cand := range s.buffer.Flush() {
					s.applyCandidate(cand)
				}
				// Answer landed; restart the clock for the connect.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.p.cfg.AnswerTimeout)

			case ev.candidate != nil:
				if s.buffer.Add(*ev.candidate) {
					s.applyCandidate(*ev.candidate)
				}

			case ev.connState != nil:
				switch *ev.connState {
				case domain.ConnConnected:
					if s.state != StateConnected {
						s.setState(StateConnected)
						s.startedAt = time.Now()
						s.p.metrics.NegotiationCompleted(roleProducer, time.Since(s.createdAt))
						timer.Stop()
						if err := s.publish(func(ctx context.Context) error {
							return s.p.channel.PublishStatus(ctx, deviceID, domain.StreamingStatus(s.req, s.startedAt))
						}); err != nil {
							s.p.logger.Warnw("failed to publish streaming status",
								"device_id", deviceID, "error", err)
						}
					}
				case domain.ConnFailed:
					return errs.NewAdapterError("transport connection failed", nil)
				case domain.ConnClosed:
					// Our own teardown closes the transport; anything else
					// is logged and left to the failed callback.
					s.p.logger.Debugw("transport closed", "device_id", deviceID)
				default:
					status := domain.ConnectingStatus(s.req)
					status.State = *ev.connState
					if err := s.publish(func(ctx context.Context) error {
						return s.p.channel.PublishStatus(ctx, deviceID, status)
					}); err != nil {
						s.p.logger.Warnw("failed to publish connection status",
							"device_id", deviceID, "error", err)
					}
				}

			case ev.metrics != nil:
				if s.state != StateConnected {
					continue
				}
				status := domain.StreamingStatus(s.req, s.startedAt)
				status.Metrics = ev.metrics
				if err := s.publish(func(ctx context.Context) error {
					return s.p.channel.PublishStatus(ctx, deviceID, status)
				}); err != nil {
					s.p.logger.Debugw("failed to publish metrics status",
						"device_id", deviceID, "error", err)
				}
			}
		}
	}
}

func (s *producerSession) applyCandidate(cand domain.IceCandidate) {
	if err := s.transport.AddICECandidate(cand); err != nil {
		// Stale candidates from a superseded session land here; the ICE
		// layer tolerates losing them.
		s.p.logger.Debugw("discarding ICE candidate",
			"device_id", s.p.cfg.DeviceID,
			"error", err,
		)
	}
}

func (s *producerSession) pushEvent(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// onLocalCandidate publishes each discovered candidate immediately; the
// gate keeps publishes from landing after teardown has cleared the
// subtree.
func (s *producerSession) onLocalCandidate(cand domain.IceCandidate) {
	go func() {
		if !s.gate.enter() {
			return
		}
		defer s.gate.exit()

		err := s.publish(func(ctx context.Context) error {
			return s.p.channel.PublishCandidate(ctx, s.p.cfg.DeviceID, domain.FromProducer, cand)
		})
		if err != nil {
			if s.ctx.Err() == nil {
				s.p.logger.Warnw("failed to publish ICE candidate",
					"device_id", s.p.cfg.DeviceID,
					"error", err,
				)
			}
			return
		}
		s.p.metrics.CandidateRelayed(string(domain.FromProducer))
	}()
}

// fail reports a fatal session error: failed status out, resources
// released, no automatic retry. The subtree is left in place so the
// consumer can read the error.
func (s *producerSession) fail(err error) {
	code := errs.CodeOf(err)
	s.p.logger.Errorw("producer session failed",
		"device_id", s.p.cfg.DeviceID,
		"session_id", s.id,
		"code", code,
		"error", err,
	)
	s.p.metrics.SessionFailed(roleProducer, string(code))

	s.release()
	s.setState(StateFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if perr := s.p.channel.PublishStatus(ctx, s.p.cfg.DeviceID, domain.FailedStatus(err.Error())); perr != nil {
		s.p.logger.Warnw("failed to publish failed status",
			"device_id", s.p.cfg.DeviceID,
			"error", perr,
		)
	}
}

// stop tears the session down; safe to call concurrently with an
// in-flight negotiation and returns only after media, transport, and all
// subscriptions are released.
func (s *producerSession) stop(clear bool) {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
		s.wg.Wait()

		failed := s.state == StateFailed
		s.release()

		if failed {
			return
		}
		s.setState(StateEnded)
		s.p.metrics.SessionEnded(roleProducer)
		if !clear {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.p.channel.PublishStatus(ctx, s.p.cfg.DeviceID, domain.DisconnectedStatus()); err != nil {
			s.p.logger.Warnw("failed to publish disconnected status",
				"device_id", s.p.cfg.DeviceID, "error", err)
		}
		// Negotiation state only: the request slot belongs to the
		// consumer, which may already have replaced it with a fresh
		// request this teardown must not destroy.
		if err := s.p.channel.ClearNegotiation(ctx, s.p.cfg.DeviceID); err != nil {
			s.p.logger.Warnw("failed to clear negotiation state",
				"device_id", s.p.cfg.DeviceID, "error", err)
		}
	})
}

func (s *producerSession) release() {
	s.releaseOnce.Do(func() {
		s.gate.close()
		s.subs.CancelAll()
		if s.mediaHeld {
			s.p.media.Release()
			s.mediaHeld = false
		}
		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				s.p.logger.Debugw("transport close", "error", err)
			}
		}
	})
}
