package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
	errs "guardlink/pkg/errors"
	"guardlink/pkg/retry"
	"guardlink/pkg/tracing"
	"guardlink/pkg/utils"

	"go.uber.org/zap"
)

const roleConsumer = "consumer"

// ConsumerConfig parameterizes the parent-device coordinator.
type ConsumerConfig struct {
	Identity     domain.RequesterID
	OfferTimeout time.Duration
	PublishRetry retry.Config
}

func (c *ConsumerConfig) applyDefaults() {
	if c.OfferTimeout <= 0 {
		c.OfferTimeout = 30 * time.Second
	}
	if c.PublishRetry.MaxAttempts == 0 {
		c.PublishRetry = retry.DefaultConfig()
	}
	if c.PublishRetry.RetryIf == nil {
		c.PublishRetry.RetryIf = errs.IsChannelError
	}
}

// Consumer owns the parent-device side: it issues stream requests,
// answers offers, and relays its ICE candidates. At most one outbound
// session exists per instance; requesting another device first tears the
// current session down completely.
type Consumer struct {
	cfg        ConsumerConfig
	channel    ports.SignalingChannel
	transports ports.TransportFactory
	metrics    Metrics
	logger     *zap.SugaredLogger

	mu   sync.Mutex
	sess *consumerSession
}

func NewConsumer(
	cfg ConsumerConfig,
	channel ports.SignalingChannel,
	transports ports.TransportFactory,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *Consumer {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Consumer{
		cfg:        cfg,
		channel:    channel,
		transports: transports,
		metrics:    metrics,
		logger:     logger,
	}
}

var _ ports.ConsumerService = (*Consumer)(nil)

// RequestStream starts a session against deviceID. Subscriptions for the
// offer, producer candidates, and status are established before the
// request is published so an immediate offer cannot be missed.
func (c *Consumer) RequestStream(ctx context.Context, deviceID domain.DeviceID, req *domain.StreamRequest) error {
	if err := req.Validate(); err != nil {
		return errs.NewInvalidInputError(err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		c.stopSessionLocked(ctx, c.sess)
		c.sess = nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "request", string(deviceID))
	defer span.End()

	sess := newConsumerSession(c, deviceID, req)
	if err := sess.start(ctx); err != nil {
		sess.stop()
		tracing.RecordError(ctx, err)
		return err
	}
	c.sess = sess
	c.metrics.SessionStarted(roleConsumer)
	sess.started = true
	go sess.run()
	return nil
}

// StopStream deactivates the request (the authoritative cancellation
// signal for the producer), tears down the transport and every
// subscription, and clears the signaling subtree.
func (c *Consumer) StopStream(ctx context.Context, deviceID domain.DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil || c.sess.deviceID != deviceID {
		return domain.ErrSessionNotFound
	}
	c.stopSessionLocked(ctx, c.sess)
	c.sess = nil
	return nil
}

// ObserveStatus exposes the device's live status stream; the producer
// publishes it, the gateway forwards it to the UI.
func (c *Consumer) ObserveStatus(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamStatus, ports.CancelFunc, error) {
	return c.channel.ObserveStatus(ctx, deviceID)
}

// Close tears down whatever session is active.
func (c *Consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.stopSessionLocked(ctx, c.sess)
		c.sess = nil
	}
	return nil
}

func (c *Consumer) stopSessionLocked(ctx context.Context, sess *consumerSession) {
	// Deactivate first so the producer observes Active=false before the
	// subtree disappears.
	inactive := *sess.req
	inactive.Active = false
	if err := retry.Retry(ctx, c.cfg.PublishRetry, func() error {
		return c.channel.PublishRequest(ctx, sess.deviceID, &inactive)
	}); err != nil {
		c.logger.Warnw("failed to deactivate stream request",
			"device_id", sess.deviceID, "error", err)
	}

	sess.stop()

	clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.channel.Clear(clearCtx, sess.deviceID); err != nil {
		c.logger.Warnw("failed to clear signaling subtree",
			"device_id", sess.deviceID, "error", err)
	}
	// A session that failed or self-ended already settled its metrics.
	sess.settle("")
}

// consumerSession is one outbound request's lifetime. Like the producer
// session, its run loop is the single ordering point for transport calls.
type consumerSession struct {
	c        *Consumer
	id       string
	deviceID domain.DeviceID
	req      *domain.StreamRequest

	ctx    context.Context
	cancel context.CancelFunc
	events chan sessionEvent
	done   chan struct{}
	wg     sync.WaitGroup
	subs   subscriptionSet
	gate   publishGate

	transport ports.PeerTransport
	buffer    candidateBuffer
	state     SessionState
	createdAt time.Time
	started   bool

	stopOnce    sync.Once
	releaseOnce sync.Once
	settleOnce  sync.Once
}

func newConsumerSession(c *Consumer, deviceID domain.DeviceID, req *domain.StreamRequest) *consumerSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &consumerSession{
		c:         c,
		id:        utils.GenerateSessionID(),
		deviceID:  deviceID,
		req:       req,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan sessionEvent, 16),
		done:      make(chan struct{}),
		state:     StateIdle,
		createdAt: time.Now(),
	}
}

func (s *consumerSession) setState(state SessionState) {
	s.state = state
	s.c.metrics.StateTransition(roleConsumer, string(state))
	s.c.logger.Debugw("consumer session state",
		"device_id", s.deviceID,
		"session_id", s.id,
		"state", state,
	)
}

// settle records the session's terminal metric exactly once, whichever
// of the teardown paths gets there first.
func (s *consumerSession) settle(code string) {
	s.settleOnce.Do(func() {
		if code == "" {
			s.c.metrics.SessionEnded(roleConsumer)
		} else {
			s.c.metrics.SessionFailed(roleConsumer, code)
		}
	})
}

func (s *consumerSession) publish(fn func(ctx context.Context) error) error {
	return retry.Retry(s.ctx, s.c.cfg.PublishRetry, func() error {
		return fn(s.ctx)
	})
}

// start wires the transport and subscriptions and publishes the request.
// Runs under the coordinator lock; the run loop takes over afterwards.
func (s *consumerSession) start(ctx context.Context) error {
	// Fresh subtree: stale offers or candidates from an earlier session
	// for this device must not replay into the new one.
	if err := s.c.channel.Clear(ctx, s.deviceID); err != nil {
		return err
	}

	transport, err := s.c.transports.NewTransport()
	if err != nil {
		return err
	}
	s.transport = transport

	transport.OnICECandidate(s.onLocalCandidate)
	transport.OnConnectionStateChange(func(state domain.ConnectionState) {
		s.pushEvent(sessionEvent{connState: &state})
	})

	offers, cancelOffers, err := s.c.channel.ObserveOffer(s.ctx, s.deviceID)
	if err != nil {
		return err
	}
	s.subs.Add(cancelOffers)
	forward(&s.wg, offers, s.ctx.Done(), s.events, func(sdp *domain.SignalingData) sessionEvent {
		return sessionEvent{sdp: sdp}
	})

	candidates, cancelCandidates, err := s.c.channel.ObserveCandidates(s.ctx, s.deviceID, domain.FromProducer)
	if err != nil {
		return err
	}
	s.subs.Add(cancelCandidates)
	forward(&s.wg, candidates, s.ctx.Done(), s.events, func(c domain.IceCandidate) sessionEvent {
		return sessionEvent{candidate: &c}
	})

	statuses, cancelStatuses, err := s.c.channel.ObserveStatus(s.ctx, s.deviceID)
	if err != nil {
		return err
	}
	s.subs.Add(cancelStatuses)
	forward(&s.wg, statuses, s.ctx.Done(), s.events, func(st *domain.StreamStatus) sessionEvent {
		return sessionEvent{status: st}
	})

	// Watching our own request slot detects another requester taking
	// the device over (last write wins on the slot).
	requests, cancelRequests, err := s.c.channel.ObserveRequest(s.ctx, s.deviceID)
	if err != nil {
		return err
	}
	s.subs.Add(cancelRequests)
	forward(&s.wg, requests, s.ctx.Done(), s.events, func(req *domain.StreamRequest) sessionEvent {
		return sessionEvent{request: req}
	})

	if err := retry.Retry(ctx, s.c.cfg.PublishRetry, func() error {
		return s.c.channel.PublishRequest(ctx, s.deviceID, s.req)
	}); err != nil {
		return err
	}
	s.setState(StateRequestSent)
	s.setState(StateAwaitingOffer)
	return nil
}

func (s *consumerSession) run() {
	defer close(s.done)

	err := s.loop()
	if err == nil || s.ctx.Err() != nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrSessionSuperseded):
		// The slot belongs to the new requester now; end quietly and
		// publish nothing that could poison its session.
		s.end("superseded by another requester", false)
	case errors.Is(err, domain.ErrSessionEnded):
		s.end("producer ended the stream", true)
	default:
		s.fail(err)
	}
}

func (s *consumerSession) loop() error {
	timer := time.NewTimer(s.c.cfg.OfferTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil

		case <-timer.C:
			if s.state != StateConnected {
				return errs.NewNegotiationError(
					fmt.Sprintf("no offer within %s", s.c.cfg.OfferTimeout),
					domain.ErrNegotiationTimeout,
				)
			}

		case ev := <-s.events:
			switch {
			case ev.sdp != nil:
				if ev.sdp.Type != domain.SDPOffer {
					continue
				}
				answer, err := s.transport.CreateAnswer(s.ctx, ev.sdp)
				if err != nil {
					return err
				}
				if err := s.publish(func(ctx context.Context) error {
					return s.c.channel.PublishAnswer(ctx, s.deviceID, answer)
				}); err != nil {
					return err
				}
				s.setState(StateAnswerSent)
				// CreateAnswer set the remote description, early
				// candidates can flow now.
				for _, cand := range s.buffer.Flush() {
					s.applyCandidate(cand)
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.c.cfg.OfferTimeout)

			case ev.candidate != nil:
				if s.buffer.Add(*ev.candidate) {
					s.applyCandidate(*ev.candidate)
				}

			case ev.request != nil:
				// Our own publish echoes back here; anything else means
				// another requester overwrote the slot.
				if sameRequest(s.req, ev.request) {
					continue
				}
				return domain.ErrSessionSuperseded

			case ev.connState != nil:
				switch *ev.connState {
				case domain.ConnConnected:
					if s.state != StateConnected {
						s.setState(StateConnected)
						s.c.metrics.NegotiationCompleted(roleConsumer, time.Since(s.createdAt))
						timer.Stop()
					}
				case domain.ConnFailed:
					return errs.NewAdapterError("transport connection failed", nil)
				default:
				}

			case ev.status != nil:
				// The producer declaring failure ends the session on this
				// side too; FAILED is terminal until a fresh request.
				if ev.status.State == domain.ConnFailed && s.state != StateFailed {
					return errs.NewAdapterError(
						fmt.Sprintf("producer reported failure: %s", ev.status.Error), nil)
				}
				// A disconnect while streaming is the producer shutting
				// down, not an error on this side.
				if ev.status.State == domain.ConnDisconnected && s.state == StateConnected {
					return domain.ErrSessionEnded
				}
			}
		}
	}
}

func (s *consumerSession) applyCandidate(cand domain.IceCandidate) {
	if err := s.transport.AddICECandidate(cand); err != nil {
		s.c.logger.Debugw("discarding ICE candidate",
			"device_id", s.deviceID,
			"error", err,
		)
	}
}

func (s *consumerSession) pushEvent(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *consumerSession) onLocalCandidate(cand domain.IceCandidate) {
	go func() {
		if !s.gate.enter() {
			return
		}
		defer s.gate.exit()

		err := s.publish(func(ctx context.Context) error {
			return s.c.channel.PublishCandidate(ctx, s.deviceID, domain.FromConsumer, cand)
		})
		if err != nil {
			if s.ctx.Err() == nil {
				s.c.logger.Warnw("failed to publish ICE candidate",
					"device_id", s.deviceID,
					"error", err,
				)
			}
			return
		}
		s.c.metrics.CandidateRelayed(string(domain.FromConsumer))
	}()
}

// end closes the session without marking it failed. With deactivate the
// request is withdrawn; a superseded session leaves the slot alone, it
// belongs to the new requester.
func (s *consumerSession) end(reason string, deactivate bool) {
	s.c.logger.Infow("consumer session ended",
		"device_id", s.deviceID,
		"session_id", s.id,
		"reason", reason,
	)
	s.release()
	s.setState(StateEnded)
	s.settle("")

	if !deactivate {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inactive := *s.req
	inactive.Active = false
	if err := s.c.channel.PublishRequest(ctx, s.deviceID, &inactive); err != nil {
		s.c.logger.Warnw("failed to deactivate request",
			"device_id", s.deviceID, "error", err)
	}
}

func (s *consumerSession) fail(err error) {
	code := errs.CodeOf(err)
	s.c.logger.Errorw("consumer session failed",
		"device_id", s.deviceID,
		"session_id", s.id,
		"code", code,
		"error", err,
	)
	s.settle(string(code))

	s.release()
	s.setState(StateFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if perr := s.c.channel.PublishStatus(ctx, s.deviceID, domain.FailedStatus(err.Error())); perr != nil {
		s.c.logger.Warnw("failed to publish failed status",
			"device_id", s.deviceID, "error", perr)
	}
	// Deactivate so the producer releases media instead of streaming
	// into a dead transport.
	inactive := *s.req
	inactive.Active = false
	if perr := s.c.channel.PublishRequest(ctx, s.deviceID, &inactive); perr != nil {
		s.c.logger.Warnw("failed to deactivate request after failure",
			"device_id", s.deviceID, "error", perr)
	}
}

// stop halts the loop and releases the transport and all subscriptions
// before returning.
func (s *consumerSession) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.started {
			<-s.done
		}
		s.wg.Wait()

		if s.state != StateFailed {
			s.setState(StateEnded)
		}
		s.release()
	})
}

func (s *consumerSession) release() {
	s.releaseOnce.Do(func() {
		s.gate.close()
		s.subs.CancelAll()
		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				s.c.logger.Debugw("transport close", "error", err)
			}
		}
	})
}
