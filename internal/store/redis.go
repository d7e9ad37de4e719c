package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/astrohq/astrochat-go/internal/chat"
	"github.com/astrohq/astrochat-go/internal/wire"
)

// Redis key layout.
const (
	keySeq       = "chat:seq"       // INCR counter for event IDs
	keyLogPrefix = "chat:log:"      // sorted set per channel, score = event ID
	keyMonitored = "chat:monitored" // set of monitored channel names
)

// RedisStore persists the event log in Redis: one sorted set per
// channel scored by event ID, so pagination is a range query, plus a
// plain set for the monitored channels.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at the given URL
// (redis://host:port/db) and verifies the connection with a ping.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Println("[Store] Redis connected")
	return &RedisStore{client: client}, nil
}

// Close releases the connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Append assigns the next global ID and writes the event to its
// channel's log.
func (s *RedisStore) Append(ctx context.Context, ev chat.Event) error {
	id, err := s.client.Incr(ctx, keySeq).Result()
	if err != nil {
		return fmt.Errorf("allocating event id: %w", err)
	}
	ev.ID = id
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	err = s.client.ZAdd(ctx, keyLogPrefix+ev.Channel, redis.Z{
		Score:  float64(id),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// History pages backwards from beforeID (exclusive; 0 means newest)
// and returns events oldest-first.
func (s *RedisStore) History(ctx context.Context, channel string, beforeID int64, limit int) ([]chat.Event, error) {
	limit = clampLimit(limit)
	max := "+inf"
	if beforeID > 0 {
		max = "(" + strconv.FormatInt(beforeID, 10)
	}
	raw, err := s.client.ZRevRangeByScore(ctx, keyLogPrefix+channel, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	events := make([]chat.Event, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var ev chat.Event
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			log.Printf("[Store] Skipping undecodable event in %s: %v", channel, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// UnreadCounts counts message-kind events newer than each channel's
// timestamp. IDs are assigned by a single writer in arrival order, so
// the walk back from the newest event can stop at the first one at or
// before the cutoff.
func (s *RedisStore) UnreadCounts(ctx context.Context, since map[string]float64) (map[string]int, error) {
	counts := make(map[string]int, len(since))
	for channel, ts := range since {
		n, err := s.countNewer(ctx, channel, ts)
		if err != nil {
			return nil, err
		}
		counts[channel] = n
	}
	return counts, nil
}

func (s *RedisStore) countNewer(ctx context.Context, channel string, ts float64) (int, error) {
	const page = 200
	count := 0
	for start := int64(0); ; start += page {
		raw, err := s.client.ZRevRange(ctx, keyLogPrefix+channel, start, start+page-1).Result()
		if err != nil {
			return 0, fmt.Errorf("counting unread in %s: %w", channel, err)
		}
		for _, member := range raw {
			var ev chat.Event
			if err := json.Unmarshal([]byte(member), &ev); err != nil {
				continue
			}
			if ev.Timestamp <= ts {
				return count, nil
			}
			if ev.Kind == wire.KindMessage {
				count++
			}
		}
		if len(raw) < page {
			return count, nil
		}
	}
}

// AddMonitored records a channel in the durable monitored set.
func (s *RedisStore) AddMonitored(ctx context.Context, channel string) error {
	if err := s.client.SAdd(ctx, keyMonitored, channel).Err(); err != nil {
		return fmt.Errorf("saving monitored channel: %w", err)
	}
	return nil
}

// Monitored returns the monitored channel set.
func (s *RedisStore) Monitored(ctx context.Context) ([]string, error) {
	channels, err := s.client.SMembers(ctx, keyMonitored).Result()
	if err != nil {
		return nil, fmt.Errorf("loading monitored channels: %w", err)
	}
	return channels, nil
}
