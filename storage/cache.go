package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasks-api/config"
	"tasks-api/domain"
)

const (
	taskIDsKey    = "task_ids"
	eventsChannel = "task-events"

	resubscribeDelay = time.Second
)

// Cache keeps task projections and the pagination id index in Redis. Every
// failure is reported as domain.ErrCacheUnavailable; reads degrade to misses.
type Cache struct {
	redis *redis.Client
}

// NewCache wraps the provided Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{redis: client}
}

// NewRedisClient builds a client from cfg. Retries are disabled so a
// failing cache surfaces immediately instead of stalling the request.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := parseRedisOptions(cfg.URL)
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.MaxRetries = -1
	return redis.NewClient(opts)
}

// parseRedisOptions accepts a redis:// URL or the
// "host:port,password=...,ssl=true" connection string form.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrCacheUnavailable, op, err)
}

// Get returns the cached projection for id. Misses, Redis errors and corrupt
// payloads all report ok=false; corrupt entries are removed.
func (c *Cache) Get(ctx context.Context, id int64) (domain.CachedTask, bool) {
	if c == nil || c.redis == nil {
		return domain.CachedTask{}, false
	}
	key := taskCacheKey(id)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return domain.CachedTask{}, false
	}
	var rec domain.CachedTask
	if err := sonic.Unmarshal(data, &rec); err != nil || rec.ID != id {
		_ = c.redis.Del(ctx, key).Err()
		return domain.CachedTask{}, false
	}
	return rec, true
}

// GetMany resolves ids with a single MGET, keeping id order and skipping
// misses and corrupt payloads.
func (c *Cache) GetMany(ctx context.Context, ids []int64) []domain.CachedTask {
	if c == nil || c.redis == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskCacheKey(id)
	}
	vals, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil
	}
	out := make([]domain.CachedTask, 0, len(ids))
	var corrupt []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.CachedTask
		if err := sonic.UnmarshalString(s, &rec); err != nil || rec.ID != ids[i] {
			corrupt = append(corrupt, keys[i])
			continue
		}
		out = append(out, rec)
	}
	if len(corrupt) > 0 {
		_ = c.redis.Del(ctx, corrupt...).Err()
	}
	return out
}

// Set writes rec under task:{id} without expiry.
func (c *Cache) Set(ctx context.Context, rec domain.CachedTask) error {
	if c == nil || c.redis == nil {
		return unavailable("set", redis.ErrClosed)
	}
	data, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cached task %d: %w", rec.ID, err)
	}
	if err := c.redis.Set(ctx, taskCacheKey(rec.ID), data, 0).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes the projection for id.
func (c *Cache) Delete(ctx context.Context, id int64) error {
	if c == nil || c.redis == nil {
		return unavailable("delete", redis.ErrClosed)
	}
	if err := c.redis.Del(ctx, taskCacheKey(id)).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// IndexAppend pushes id onto the tail of the id index.
func (c *Cache) IndexAppend(ctx context.Context, id int64) error {
	if c == nil || c.redis == nil {
		return unavailable("index append", redis.ErrClosed)
	}
	if err := c.redis.RPush(ctx, taskIDsKey, id).Err(); err != nil {
		return unavailable("index append", err)
	}
	return nil
}

// IndexRemove removes every occurrence of id from the index. Absent ids are
// a no-op.
func (c *Cache) IndexRemove(ctx context.Context, id int64) error {
	if c == nil || c.redis == nil {
		return unavailable("index remove", redis.ErrClosed)
	}
	if err := c.redis.LRem(ctx, taskIDsKey, 0, strconv.FormatInt(id, 10)).Err(); err != nil {
		return unavailable("index remove", err)
	}
	return nil
}

// IndexRange returns up to limit ids starting at offset, in index order.
// Members that are not valid ids are skipped.
func (c *Cache) IndexRange(ctx context.Context, offset, limit int) ([]int64, error) {
	if c == nil || c.redis == nil {
		return nil, unavailable("index range", redis.ErrClosed)
	}
	if offset < 0 || limit <= 0 {
		return nil, nil
	}
	members, err := c.redis.LRange(ctx, taskIDsKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, unavailable("index range", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Publish announces ev on the task events channel.
func (c *Cache) Publish(ctx context.Context, ev domain.TaskEvent) error {
	if c == nil || c.redis == nil {
		return unavailable("publish", redis.ErrClosed)
	}
	payload, err := sonic.MarshalString(ev)
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	if err := c.redis.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// SubscribeEvents delivers every event published on the task events channel
// to handle until ctx is done. A dropped subscription is re-established
// after resubscribeDelay.
func (c *Cache) SubscribeEvents(ctx context.Context, logger *log.Logger, handle func(domain.TaskEvent)) {
	for {
		sub := c.redis.Subscribe(ctx, eventsChannel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.TaskEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.WithError(err).Warn("discarding malformed task event")
					continue
				}
				handle(ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("task events subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.redis.Close()
}

func taskCacheKey(id int64) string {
	return "task:" + strconv.FormatInt(id, 10)
}
