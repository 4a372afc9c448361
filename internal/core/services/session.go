package services

import (
	"sync"
	"time"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
)

// SessionState is the coordinator's per-session lifecycle position.
// Producer sessions move Idle → AwaitingMedia → OfferSent → Connected →
// Ended; consumer sessions Idle → RequestSent → AwaitingOffer →
// AnswerSent → Connected → Ended. Failed is reachable from any
// non-terminal state and is terminal for the session.
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateAwaitingMedia SessionState = "awaiting_media"
	StateOfferSent     SessionState = "offer_sent"
	StateRequestSent   SessionState = "request_sent"
	StateAwaitingOffer SessionState = "awaiting_offer"
	StateAnswerSent    SessionState = "answer_sent"
	StateConnected     SessionState = "connected"
	StateEnded         SessionState = "ended"
	StateFailed        SessionState = "failed"
)

// Terminal reports whether the session can no longer progress.
func (s SessionState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// subscriptionSet owns every live subscription of one session so
// teardown releases them atomically. Adding after CancelAll cancels
// immediately; no subscription can leak past the session.
type subscriptionSet struct {
	mu      sync.Mutex
	cancels []ports.CancelFunc
	closed  bool
}

func (s *subscriptionSet) Add(cancel ports.CancelFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()
}

func (s *subscriptionSet) CancelAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// candidateBuffer queues remote ICE candidates that arrive before the
// remote description is set. Early candidates are a valid state, not an
// error; they flush once the description lands.
type candidateBuffer struct {
	pending []domain.IceCandidate
	ready   bool
}

// Add returns true when the candidate can be applied now, false when it
// was buffered.
func (b *candidateBuffer) Add(c domain.IceCandidate) bool {
	if b.ready {
		return true
	}
	b.pending = append(b.pending, c)
	return false
}

// Flush marks the remote description as set and returns the queued
// candidates in arrival order.
func (b *candidateBuffer) Flush() []domain.IceCandidate {
	b.ready = true
	pending := b.pending
	b.pending = nil
	return pending
}

// publishGate fences asynchronous publishes against teardown: writers
// hold the gate for the duration of a publish, close waits for in-flight
// writers and rejects later ones. Nothing is written to the store after
// close returns.
type publishGate struct {
	mu     sync.RWMutex
	closed bool
}

func (g *publishGate) enter() bool {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return false
	}
	return true
}

func (g *publishGate) exit() {
	g.mu.RUnlock()
}

func (g *publishGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// sameRequest reports whether two requests describe the same
// negotiation attempt. Active is excluded so a deactivation still
// matches the request it cancels.
func sameRequest(a, b *domain.StreamRequest) bool {
	return a.Type == b.Type &&
		a.RequestedBy == b.RequestedBy &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.AudioEnabled == b.AudioEnabled &&
		a.AudioSource == b.AudioSource
}

// sessionEvent multiplexes every asynchronous input of a session onto
// its single coordinator loop, the one ordering point for adapter calls.
type sessionEvent struct {
	request   *domain.StreamRequest
	sdp       *domain.SignalingData
	candidate *domain.IceCandidate
	connState *domain.ConnectionState
	metrics   *domain.StreamMetrics
	status    *domain.StreamStatus
}

// Metrics receives coordination events for monitoring. Implemented by
// the Prometheus collector; the no-op default keeps it optional.
type Metrics interface {
	SessionStarted(role string)
	SessionEnded(role string)
	SessionFailed(role string, code string)
	NegotiationCompleted(role string, elapsed time.Duration)
	CandidateRelayed(direction string)
	StateTransition(role string, state string)
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted(string)                      {}
func (nopMetrics) SessionEnded(string)                        {}
func (nopMetrics) SessionFailed(string, string)               {}
func (nopMetrics) NegotiationCompleted(string, time.Duration) {}
func (nopMetrics) CandidateRelayed(string)                    {}
func (nopMetrics) StateTransition(string, string)             {}

// NopMetrics returns a Metrics sink that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

// forward pipes a subscription channel into the session loop as events.
// It stops when the subscription closes or done is signalled; nothing is
// delivered after teardown because the events channel reader exits first
// and the subscription itself is cancelled by the subscriptionSet.
func forward[T any](wg *sync.WaitGroup, in <-chan T, done <-chan struct{}, events chan<- sessionEvent, wrap func(T) sessionEvent) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case events <- wrap(v):
				case <-done:
					return
				}
			}
		}
	}()
}
