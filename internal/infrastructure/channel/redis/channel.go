// Package redis implements the SignalingChannel over Redis: JSON slots
// for request/offer/answer/status, lists for the candidate collections,
// and Pub/Sub for change notification. Observers subscribe before
// reading the stored state so no publish is missed; a per-device
// sequence number deduplicates the overlap between the stored backlog
// and the live feed.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
	errs "guardlink/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "signaling:"

// envelope wraps every stored and published value with the device's
// publish sequence number. Data is null for slot removals.
type envelope struct {
	Seq  int64           `json:"seq"`
	Data json.RawMessage `json:"data"`
}

type Channel struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewChannel(client *redis.Client, logger *zap.SugaredLogger) *Channel {
	return &Channel{client: client, logger: logger}
}

var _ ports.SignalingChannel = (*Channel)(nil)

func slotKey(deviceID domain.DeviceID, entity string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, deviceID, entity)
}

func eventChannel(deviceID domain.DeviceID, entity string) string {
	return fmt.Sprintf("%s%s:events:%s", keyPrefix, deviceID, entity)
}

// seqKey lives outside the cleared subtree so sequence numbers keep
// increasing across sessions; observers rely on that for dedup.
func seqKey(deviceID domain.DeviceID) string {
	return fmt.Sprintf("signaling_seq:%s", deviceID)
}

func candidateEntity(dir domain.CandidateDirection) string {
	return "ice:" + string(dir)
}

func (c *Channel) nextSeq(ctx context.Context, deviceID domain.DeviceID) (int64, error) {
	seq, err := c.client.Incr(ctx, seqKey(deviceID)).Result()
	if err != nil {
		return 0, errs.NewChannelError("failed to advance publish sequence", err)
	}
	return seq, nil
}

func (c *Channel) publishSlot(ctx context.Context, deviceID domain.DeviceID, entity string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", entity, err)
	}
	seq, err := c.nextSeq(ctx, deviceID)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{Seq: seq, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", entity, err)
	}
	if err := c.client.Set(ctx, slotKey(deviceID, entity), env, 0).Err(); err != nil {
		return errs.NewChannelError(fmt.Sprintf("failed to store %s", entity), err)
	}
	if err := c.client.Publish(ctx, eventChannel(deviceID, entity), env).Err(); err != nil {
		return errs.NewChannelError(fmt.Sprintf("failed to notify %s", entity), err)
	}
	return nil
}

func (c *Channel) PublishRequest(ctx context.Context, deviceID domain.DeviceID, req *domain.StreamRequest) error {
	return c.publishSlot(ctx, deviceID, "request", req)
}

func (c *Channel) PublishOffer(ctx context.Context, deviceID domain.DeviceID, sdp *domain.SignalingData) error {
	return c.publishSlot(ctx, deviceID, "offer", sdp)
}

func (c *Channel) PublishAnswer(ctx context.Context, deviceID domain.DeviceID, sdp *domain.SignalingData) error {
	return c.publishSlot(ctx, deviceID, "answer", sdp)
}

func (c *Channel) PublishStatus(ctx context.Context, deviceID domain.DeviceID, status *domain.StreamStatus) error {
	return c.publishSlot(ctx, deviceID, "status", status)
}

func (c *Channel) PublishCandidate(ctx context.Context, deviceID domain.DeviceID, dir domain.CandidateDirection, cand domain.IceCandidate) error {
	entity := candidateEntity(dir)
	data, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}
	seq, err := c.nextSeq(ctx, deviceID)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{Seq: seq, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal candidate envelope: %w", err)
	}
	if err := c.client.RPush(ctx, slotKey(deviceID, entity), env).Err(); err != nil {
		return errs.NewChannelError("failed to append candidate", err)
	}
	if err := c.client.Publish(ctx, eventChannel(deviceID, entity), env).Err(); err != nil {
		return errs.NewChannelError("failed to notify candidate", err)
	}
	return nil
}

// observeSlot subscribes to the entity's event channel, replays the
// stored value, then streams live publishes. Dedup by sequence number.
func observeSlot[T any](ctx context.Context, c *Channel, deviceID domain.DeviceID, entity string) (<-chan *T, ports.CancelFunc, error) {
	pubsub := c.client.Subscribe(ctx, eventChannel(deviceID, entity))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, errs.NewChannelError(fmt.Sprintf("failed to subscribe to %s", entity), err)
	}

	out := make(chan *T)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}

	go func() {
		defer close(out)

		var lastSeq int64

		deliver := func(env envelope) bool {
			if env.Seq <= lastSeq {
				return true
			}
			lastSeq = env.Seq

			var value *T
			if len(env.Data) > 0 && string(env.Data) != "null" {
				value = new(T)
				if err := json.Unmarshal(env.Data, value); err != nil {
					c.logger.Warnw("failed to unmarshal signaling payload",
						"entity", entity,
						"device_id", deviceID,
						"error", err,
					)
					return true
				}
			}
			select {
			case out <- value:
				return true
			case <-done:
				return false
			case <-ctx.Done():
				return false
			}
		}

		// Stored value first: the subscription is already live, so a
		// concurrent publish is seen twice at most and dropped by seq.
		stored, err := c.client.Get(ctx, slotKey(deviceID, entity)).Result()
		if err == nil {
			var env envelope
			if jerr := json.Unmarshal([]byte(stored), &env); jerr == nil {
				if !deliver(env) {
					return
				}
			}
		} else if err != redis.Nil {
			c.logger.Warnw("failed to read stored signaling value",
				"entity", entity,
				"device_id", deviceID,
				"error", err,
			)
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					c.logger.Warnw("failed to unmarshal signaling event",
						"entity", entity,
						"device_id", deviceID,
						"error", err,
					)
					continue
				}
				if !deliver(env) {
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

func (c *Channel) ObserveRequest(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamRequest, ports.CancelFunc, error) {
	return observeSlot[domain.StreamRequest](ctx, c, deviceID, "request")
}

func (c *Channel) ObserveOffer(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.SignalingData, ports.CancelFunc, error) {
	return observeSlot[domain.SignalingData](ctx, c, deviceID, "offer")
}

func (c *Channel) ObserveAnswer(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.SignalingData, ports.CancelFunc, error) {
	return observeSlot[domain.SignalingData](ctx, c, deviceID, "answer")
}

func (c *Channel) ObserveStatus(ctx context.Context, deviceID domain.DeviceID) (<-chan *domain.StreamStatus, ports.CancelFunc, error) {
	return observeSlot[domain.StreamStatus](ctx, c, deviceID, "status")
}

func (c *Channel) ObserveCandidates(ctx context.Context, deviceID domain.DeviceID, dir domain.CandidateDirection) (<-chan domain.IceCandidate, ports.CancelFunc, error) {
	entity := candidateEntity(dir)
	pubsub := c.client.Subscribe(ctx, eventChannel(deviceID, entity))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, errs.NewChannelError("failed to subscribe to candidates", err)
	}

	out := make(chan domain.IceCandidate)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}

	go func() {
		defer close(out)

		var lastSeq int64

		deliver := func(env envelope) bool {
			if env.Seq <= lastSeq {
				return true
			}
			lastSeq = env.Seq

			var cand domain.IceCandidate
			if err := json.Unmarshal(env.Data, &cand); err != nil {
				c.logger.Warnw("failed to unmarshal candidate",
					"device_id", deviceID,
					"direction", dir,
					"error", err,
				)
				return true
			}
			select {
			case out <- cand:
				return true
			case <-done:
				return false
			case <-ctx.Done():
				return false
			}
		}

		// Backlog: candidates appended before this observer attached are
		// delivered exactly once.
		backlog, err := c.client.LRange(ctx, slotKey(deviceID, entity), 0, -1).Result()
		if err != nil {
			c.logger.Warnw("failed to read candidate backlog",
				"device_id", deviceID,
				"direction", dir,
				"error", err,
			)
		}
		for _, item := range backlog {
			var env envelope
			if jerr := json.Unmarshal([]byte(item), &env); jerr != nil {
				continue
			}
			if !deliver(env) {
				return
			}
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				if !deliver(env) {
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// Clear removes the device's signaling subtree and notifies slot
// observers with a removal event. Idempotent: clearing an empty subtree
// is a no-op beyond the notifications.
func (c *Channel) Clear(ctx context.Context, deviceID domain.DeviceID) error {
	return c.clear(ctx, deviceID, true)
}

// ClearNegotiation removes offer, answer, status, and the candidate
// lists but never the request slot; the producing side tears down with
// this so it cannot delete a request the consumer just replaced.
func (c *Channel) ClearNegotiation(ctx context.Context, deviceID domain.DeviceID) error {
	return c.clear(ctx, deviceID, false)
}

func (c *Channel) clear(ctx context.Context, deviceID domain.DeviceID, withRequest bool) error {
	entities := []string{"offer", "answer", "status"}
	if withRequest {
		entities = append([]string{"request"}, entities...)
	}

	keys := []string{
		slotKey(deviceID, candidateEntity(domain.FromProducer)),
		slotKey(deviceID, candidateEntity(domain.FromConsumer)),
	}
	for _, entity := range entities {
		keys = append(keys, slotKey(deviceID, entity))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errs.NewChannelError("failed to clear signaling subtree", err)
	}

	for _, entity := range entities {
		seq, err := c.nextSeq(ctx, deviceID)
		if err != nil {
			return err
		}
		env, err := json.Marshal(envelope{Seq: seq, Data: json.RawMessage("null")})
		if err != nil {
			return fmt.Errorf("failed to marshal removal envelope: %w", err)
		}
		if err := c.client.Publish(ctx, eventChannel(deviceID, entity), env).Err(); err != nil {
			return errs.NewChannelError("failed to notify removal", err)
		}
	}
	return nil
}
