// README: Publisher implementations: Kafka, Redis pub/sub and an in-process broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes one message per event, keyed by quotation id.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evs []Event) error {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, e := range evs {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.QuotationID),
			Value: raw,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(e.ID)},
				{Key: "type", Value: []byte(e.Type)},
			},
			Time: e.OccurredAt,
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// RedisPublisher fans events out on a pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, evs []Event) error {
	pipe := p.rdb.Pipeline()
	for _, e := range evs {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		pipe.Publish(ctx, p.channel, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Broker delivers events to in-process subscribers. Publish blocks until every
// subscriber has room, the subscriber detaches, or ctx is done.
type Broker struct {
	mu   sync.RWMutex
	next int
	subs map[int]*subscription
}

type subscription struct {
	ch   chan Event
	done chan struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[int]*subscription{}}
}

// Subscribe returns a channel of events and a function that detaches it.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &subscription{ch: make(chan Event, buffer), done: make(chan struct{})}
	b.subs[id] = sub
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			close(sub.done)
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
}

func (b *Broker) Publish(ctx context.Context, evs []Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range evs {
		for _, sub := range b.subs {
			select {
			case sub.ch <- e:
			case <-sub.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
