package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key namespaces.
const (
	l2KeyPrefix  = "lodestone:cache:"
	tagKeyPrefix = "lodestone:tag:"
)

// l2Tier is the Redis-backed middle tier. Entries are JSON-serialized
// with Redis managing the TTL; tags are mirrored into Redis sets so
// invalidation can find members written by other processes.
type l2Tier struct {
	client redis.UniversalClient
}

func newL2Tier(client redis.UniversalClient) *l2Tier {
	return &l2Tier{client: client}
}

// get fetches and deserializes an entry. A redis.Nil reply is a clean
// miss; any other error is returned for the caller to log.
func (t *l2Tier) get(ctx context.Context, key string) (*Entry, error) {
	data, err := t.client.Get(ctx, l2KeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt payload; drop it and report a miss.
		_ = t.client.Del(ctx, l2KeyPrefix+key).Err()
		return nil, nil
	}
	return &entry, nil
}

// set serializes and stores an entry with its TTL, and indexes its tags.
func (t *l2Tier) set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := t.client.Set(ctx, l2KeyPrefix+entry.Key, data, ttl).Err(); err != nil {
		return err
	}
	for _, tag := range entry.Tags {
		pipe := t.client.Pipeline()
		pipe.SAdd(ctx, tagKeyPrefix+tag, entry.Key)
		if ttl > 0 {
			pipe.Expire(ctx, tagKeyPrefix+tag, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// delete removes an entry.
func (t *l2Tier) delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, l2KeyPrefix+key).Err()
}

// tagMembers returns keys recorded under a tag, including keys written
// by other processes.
func (t *l2Tier) tagMembers(ctx context.Context, tag string) ([]string, error) {
	members, err := t.client.SMembers(ctx, tagKeyPrefix+tag).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return members, err
}

// dropTag removes a tag index after invalidation.
func (t *l2Tier) dropTag(ctx context.Context, tag string) error {
	return t.client.Del(ctx, tagKeyPrefix+tag).Err()
}

// ping verifies connectivity.
func (t *l2Tier) ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
