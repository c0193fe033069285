package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each room's entries in a sorted set scored by the
// entry's expiry deadline, with the JSON payload in a companion hash.
// Redis hashes have no per-field TTL, so reads prune expired scores
// first; that makes expiry idempotent and needs no background sweeper.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func onlineKeys(roomID string) (zset, hash string) {
	return fmt.Sprintf("presence_online:%s", roomID), fmt.Sprintf("presence_online_info:%s", roomID)
}

func focusKeys(roomID string) (zset, hash string) {
	return fmt.Sprintf("presence_focus:%s", roomID), fmt.Sprintf("presence_focus_info:%s", roomID)
}

func (s *RedisStore) AddOnline(ctx context.Context, roomID string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	zset, hash := onlineKeys(roomID)
	deadline := float64(time.Now().Add(s.ttl).UnixMilli())

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, zset, redis.Z{Score: deadline, Member: entry.UserID.String()})
	pipe.HSet(ctx, hash, entry.UserID.String(), payload)
	// The room keys themselves expire too, so an abandoned room leaves
	// nothing behind.
	pipe.Expire(ctx, zset, 2*s.ttl)
	pipe.Expire(ctx, hash, 2*s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RefreshOnline(ctx context.Context, roomID string, userID uuid.UUID) error {
	zset, _ := onlineKeys(roomID)
	deadline := float64(time.Now().Add(s.ttl).UnixMilli())
	// XX: refresh only; an expired-and-pruned entry stays gone.
	return s.rdb.ZAddXX(ctx, zset, redis.Z{Score: deadline, Member: userID.String()}).Err()
}

func (s *RedisStore) RemoveOnline(ctx context.Context, roomID string, userID uuid.UUID) error {
	zset, hash := onlineKeys(roomID)
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, zset, userID.String())
	pipe.HDel(ctx, hash, userID.String())
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListOnline(ctx context.Context, roomID string) ([]Entry, error) {
	zset, hash := onlineKeys(roomID)
	members, err := s.liveMembers(ctx, zset, hash)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(members))
	for _, raw := range members {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) SetFocus(ctx context.Context, roomID string, focus Focus) error {
	payload, err := json.Marshal(focus)
	if err != nil {
		return err
	}
	zset, hash := focusKeys(roomID)
	deadline := float64(time.Now().Add(s.ttl).UnixMilli())

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, zset, redis.Z{Score: deadline, Member: focus.UserID.String()})
	pipe.HSet(ctx, hash, focus.UserID.String(), payload)
	pipe.Expire(ctx, zset, 2*s.ttl)
	pipe.Expire(ctx, hash, 2*s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ClearFocus(ctx context.Context, roomID string, userID uuid.UUID) error {
	zset, hash := focusKeys(roomID)
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, zset, userID.String())
	pipe.HDel(ctx, hash, userID.String())
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListFocus(ctx context.Context, roomID string) ([]Focus, error) {
	zset, hash := focusKeys(roomID)
	members, err := s.liveMembers(ctx, zset, hash)
	if err != nil {
		return nil, err
	}
	focuses := make([]Focus, 0, len(members))
	for _, raw := range members {
		var focus Focus
		if err := json.Unmarshal([]byte(raw), &focus); err != nil {
			continue
		}
		focuses = append(focuses, focus)
	}
	return focuses, nil
}

// liveMembers prunes expired members from the sorted set and its
// payload hash, then returns the surviving payloads.
func (s *RedisStore) liveMembers(ctx context.Context, zset, hash string) ([]string, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	expired, err := s.rdb.ZRangeByScore(ctx, zset, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		pipe := s.rdb.TxPipeline()
		pipe.ZRemRangeByScore(ctx, zset, "-inf", now)
		pipe.HDel(ctx, hash, expired...)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	ids, err := s.rdb.ZRange(ctx, zset, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := s.rdb.HMGet(ctx, hash, ids...).Result()
	if err != nil {
		return nil, err
	}
	payloads := make([]string, 0, len(values))
	for _, v := range values {
		if raw, ok := v.(string); ok {
			payloads = append(payloads, raw)
		}
	}
	return payloads, nil
}
