package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// DefaultTTL is how long a cached message page lives.
const DefaultTTL = 5 * time.Minute

var (
	_ core.Cache  = (*Redis)(nil)
	_ core.PubSub = (*Redis)(nil)
)

// Redis provides the message cache and the realtime transport in Redis.
type Redis struct {
	cli *redis.Client
	ttl time.Duration
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		cli: cli,
		ttl: ttl,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	messagePrefix = "messages"
	maxSize       = core.DefaultPageSize
)

func pageKey(conversationID string) string {
	return fmt.Sprintf("%s:%s", messagePrefix, conversationID)
}

func messageKey(conversationID, messageID string) string {
	return fmt.Sprintf("%s:%s:%s", messagePrefix, conversationID, messageID)
}

// versionKey counts the invalidations of a conversation's page. It never
// expires.
func versionKey(conversationID string) string {
	return fmt.Sprintf("%s_version:%s", messagePrefix, conversationID)
}

func reactionsKey(conversationID, messageID string) string {
	return messageKey(conversationID, messageID) + ":reactions"
}

func readByKey(conversationID, messageID string) string {
	return messageKey(conversationID, messageID) + ":read_by"
}

// ListMessages returns the cached newest page of a conversation, oldest
// first. The boolean is false on a cache miss.
func (r *Redis) ListMessages(ctx context.Context, conversationID string) ([]core.Message, bool, error) {
	n, err := r.cli.Exists(ctx, pageKey(conversationID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("exists: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	vals, err := r.cli.ZRange(ctx, pageKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("zrange: %w", err)
	}

	out := make([]core.Message, 0, len(vals))
	for _, key := range vals {
		if key == emptyMember {
			continue
		}
		var msg message
		if err := r.cli.HGetAll(ctx, key).Scan(&msg); err != nil {
			return nil, false, fmt.Errorf("hgetall: %w", err)
		}
		if msg.ID == "" {
			// A member outlived its hash; treat the page as stale.
			return nil, false, nil
		}
		if msg.Reactions, err = r.listReactions(ctx, conversationID, msg.ID); err != nil {
			return nil, false, fmt.Errorf("list reactions: %w", err)
		}
		if msg.ReadBy, err = r.cli.HGetAll(ctx, readByKey(conversationID, msg.ID)).Result(); err != nil {
			return nil, false, fmt.Errorf("hgetall read_by: %w", err)
		}
		out = append(out, msg.CoreMessage())
	}
	return out, true, nil
}

func (r *Redis) listReactions(ctx context.Context, conversationID, messageID string) ([]reaction, error) {
	vals, err := r.cli.ZRange(ctx, reactionsKey(conversationID, messageID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	out := make([]reaction, len(vals))
	for i, key := range vals {
		if err := r.cli.HGetAll(ctx, key).Scan(&out[i]); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
	}
	return out, nil
}

// Version returns the invalidation count of a conversation's page.
func (r *Redis) Version(ctx context.Context, conversationID string) (int64, error) {
	v, err := r.cli.Get(ctx, versionKey(conversationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// StoreMessages replaces the cached page of a conversation with msgs,
// unless the page was invalidated after version was read. Every key of the
// page expires together.
func (r *Redis) StoreMessages(ctx context.Context, conversationID string, version int64, msgs []core.Message) error {
	if len(msgs) > maxSize {
		msgs = msgs[len(msgs)-maxSize:]
	}
	page, vkey := pageKey(conversationID), versionKey(conversationID)
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get version: %w", err)
		}
		if cur != version {
			return nil
		}
		stale, err := pageKeys(ctx, tx, page)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, page)
			if len(stale) > 0 {
				pipe.Del(ctx, stale...)
			}
			for _, m := range msgs {
				key := messageKey(conversationID, m.ID)
				pipe.HSet(ctx, key, newMessage(m))
				pipe.Expire(ctx, key, r.ttl)
				pipe.ZAdd(ctx, page, redis.Z{
					Score:  float64(m.CreatedAt.UnixNano()),
					Member: key,
				})

				if len(m.Reactions) > 0 {
					rkey := reactionsKey(conversationID, m.ID)
					for _, rc := range m.Reactions {
						hkey := fmt.Sprintf("%s:%s", rkey, rc.ID)
						pipe.HSet(ctx, hkey, newReaction(rc))
						pipe.Expire(ctx, hkey, r.ttl)
						pipe.ZAdd(ctx, rkey, redis.Z{
							Score:  float64(rc.CreatedAt.UnixNano()),
							Member: hkey,
						})
					}
					pipe.Expire(ctx, rkey, r.ttl)
				}
				if len(m.ReadBy) > 0 {
					bkey := readByKey(conversationID, m.ID)
					for _, rr := range m.ReadBy {
						pipe.HSet(ctx, bkey, rr.UserID, strconv.FormatInt(rr.ReadAt.UnixNano(), 10))
					}
					pipe.Expire(ctx, bkey, r.ttl)
				}
			}
			if len(msgs) == 0 {
				// An empty page is cached as a placeholder member.
				pipe.ZAdd(ctx, page, redis.Z{Score: 0, Member: emptyMember})
			}
			pipe.Expire(ctx, page, r.ttl)
			return nil
		})
		return err
	}, vkey)
	if errors.Is(err, redis.TxFailedErr) {
		// Invalidated while storing; the next load fills the page.
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis store messages: %w", err)
	}
	return nil
}

const emptyMember = "-"

// Invalidate drops the cached page of a conversation and bumps its
// version, so pages read before the call are never stored.
func (r *Redis) Invalidate(ctx context.Context, conversationID string) error {
	page := pageKey(conversationID)
	if err := r.cli.Incr(ctx, versionKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("redis invalidate: incr version: %w", err)
	}
	keys, err := pageKeys(ctx, r.cli, page)
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	if _, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, page)
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

type zranger interface {
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// pageKeys lists the message, reaction and read-by keys of a cached page.
func pageKeys(ctx context.Context, cmd zranger, page string) ([]string, error) {
	vals, err := cmd.ZRange(ctx, page, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	var keys []string
	for _, key := range vals {
		if key == emptyMember {
			continue
		}
		reactions, err := cmd.ZRange(ctx, key+":reactions", 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("zrange reactions: %w", err)
		}
		keys = append(keys, key, key+":reactions", key+":read_by")
		keys = append(keys, reactions...)
	}
	return keys, nil
}
