// Package memory provides an in-process SignalingChannel with the same
// subscription semantics as the Redis-backed implementation. It backs
// single-host deployments and the coordinator test suites.
package memory

import (
	"context"
	"sync"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
)

// subscriber delivers values to one observer in publish order. A pump
// goroutine owns the outbound channel so cancellation can never race a
// send: after Cancel returns, the channel is closed and nothing further
// arrives.
type subscriber[T any] struct {
	mu     sync.Mutex
	queue  []T
	wake   chan struct{}
	done   chan struct{}
	out    chan T
	closed bool
}

func newSubscriber[T any]() *subscriber[T] {
	s := &subscriber[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
	go s.pump()
	return s
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber[T]) cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// slot is one single-value entity (request, offer, answer, status).
// Observers receive the current value at attach time, then every later
// publish; removal is delivered as the zero value (nil pointer).
type slot[T any] struct {
	value   T
	present bool
	subs    map[int]*subscriber[T]
	nextID  int
}

func (s *slot[T]) publish(v T, present bool) {
	s.value = v
	s.present = present
	for _, sub := range s.subs {
		sub.push(v)
	}
}

func (s *slot[T]) observe() (*subscriber[T], int) {
	if s.subs == nil {
		s.subs = make(map[int]*subscriber[T])
	}
	id := s.nextID
	s.nextID++
	sub := newSubscriber[T]()
	s.subs[id] = sub
	if s.present {
		sub.push(s.value)
	}
	return sub, id
}

// candidateLog is one direction's append-only candidate collection.
// Attaching observers get the backlog once, then live items.
type candidateLog struct {
	items  []domain.IceCandidate
	subs   map[int]*subscriber[domain.IceCandidate]
	nextID int
}

func (l *candidateLog) publish(c domain.IceCandidate) {
	l.items = append(l.items, c)
	for _, sub := range l.subs {
		sub.push(c)
	}
}

func (l *candidateLog) observe() (*subscriber[domain.IceCandidate], int) {
	if l.subs == nil {
		l.subs = make(map[int]*subscriber[domain.IceCandidate])
	}
	id := l.nextID
	l.nextID++
	sub := newSubscriber[domain.IceCandidate]()
	l.subs[id] = sub
	for _, c := range l.items {
		sub.push(c)
	}
	return sub, id
}

type deviceTree struct {
	request    slot[*domain.StreamRequest]
	offer      slot[*domain.SignalingData]
	answer     slot[*domain.SignalingData]
	status     slot[*domain.StreamStatus]
	candidates map[domain.CandidateDirection]*candidateLog
}

func newDeviceTree() *deviceTree {
	return &deviceTree{
		candidates: map[domain.CandidateDirection]*candidateLog{
			domain.FromProducer: {},
			domain.FromConsumer: {},
		},
	}
}

// Channel is the in-process SignalingChannel.
type Channel struct {
	mu      sync.Mutex
	devices map[domain.DeviceID]*deviceTree
}

func NewChannel() *Channel {
	return &Channel{
		devices: make(map[domain.DeviceID]*deviceTree),
	}
}

var _ ports.SignalingChannel = (*Channel)(nil)

func (c *Channel) tree(deviceID domain.DeviceID) *deviceTree {
	t, ok := c.devices[deviceID]
	if !ok {
		t = newDeviceTree()
		c.devices[deviceID] = t
	}
	return t
}

func (c *Channel) PublishRequest(ctx context.Context, deviceID domain.DeviceID, req *domain.StreamRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree(deviceID).request.publish(req, true)
	return nil
}

func (c *Channel) ObserveRequest(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamRequest, ports.CancelFunc, error) {
	c.mu.Lock()
	t := c.tree(deviceID)
	sub, id := t.request.observe()
	c.mu.Unlock()
	return sub.out, cancelSlot(c, &t.request, sub, id), nil
}

func (c *Channel) PublishOffer(ctx context.Context, deviceID domain.DeviceID, sdp *domain.SignalingData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree(deviceID).offer.publish(sdp, true)
	return nil
}

func (c *Channel) ObserveOffer(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.SignalingData, ports.CancelFunc, error) {
	c.mu.Lock()
	t := c.tree(deviceID)
	sub, id := t.offer.observe()
	c.mu.Unlock()
	return sub.out, cancelSlot(c, &t.offer, sub, id), nil
}

func (c *Channel) PublishAnswer(ctx context.Context, deviceID domain.DeviceID, sdp *domain.SignalingData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree(deviceID).answer.publish(sdp, true)
	return nil
}

func (c *Channel) ObserveAnswer(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.SignalingData, ports.CancelFunc, error) {
	c.mu.Lock()
	t := c.tree(deviceID)
	sub, id := t.answer.observe()
	c.mu.Unlock()
	return sub.out, cancelSlot(c, &t.answer, sub, id), nil
}

func (c *Channel) PublishCandidate(ctx context.Context, deviceID domain.DeviceID, dir domain.CandidateDirection, cand domain.IceCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree(deviceID).candidates[dir].publish(cand)
	return nil
}

func (c *Channel) ObserveCandidates(ctx context.Context, deviceID domain.DeviceID, dir domain.CandidateDirection) (<-chan domain.IceCandidate, ports.CancelFunc, error) {
	c.mu.Lock()
	t := c.tree(deviceID)
	log := t.candidates[dir]
	sub, id := log.observe()
	c.mu.Unlock()

	cancel := func() {
		sub.cancel()
		c.mu.Lock()
		delete(log.subs, id)
		c.mu.Unlock()
	}
	return sub.out, cancel, nil
}

func (c *Channel) PublishStatus(ctx context.Context, deviceID domain.DeviceID, status *domain.StreamStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree(deviceID).status.publish(status, true)
	return nil
}

func (c *Channel) ObserveStatus(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamStatus, ports.CancelFunc, error) {
	c.mu.Lock()
	t := c.tree(deviceID)
	sub, id := t.status.observe()
	c.mu.Unlock()
	return sub.out, cancelSlot(c, &t.status, sub, id), nil
}

// Clear removes the device subtree. Observers stay attached and receive
// nil for every slot that was present; candidate logs are emptied.
func (c *Channel) Clear(ctx context.Context, deviceID domain.DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.devices[deviceID]
	if !ok {
		return nil
	}
	if t.request.present {
		t.request.publish(nil, false)
	}
	clearNegotiationLocked(t)
	return nil
}

// ClearNegotiation removes offer, answer, status, and the candidate
// logs; the request slot stays so a concurrent re-request survives the
// producer's teardown.
func (c *Channel) ClearNegotiation(ctx context.Context, deviceID domain.DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.devices[deviceID]
	if !ok {
		return nil
	}
	clearNegotiationLocked(t)
	return nil
}

func clearNegotiationLocked(t *deviceTree) {
	if t.offer.present {
		t.offer.publish(nil, false)
	}
	if t.answer.present {
		t.answer.publish(nil, false)
	}
	if t.status.present {
		t.status.publish(nil, false)
	}
	for _, log := range t.candidates {
		log.items = nil
	}
}

func cancelSlot[T any](c *Channel, s *slot[T], sub *subscriber[T], id int) ports.CancelFunc {
	return func() {
		sub.cancel()
		c.mu.Lock()
		delete(s.subs, id)
		c.mu.Unlock()
	}
}
