// Package cache holds the Redis side of the service: a read-through cache
// for owner identities and the battle event queue read by the historian.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/livehub/internal/battle"
	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// ConnectRedis initializes Rdb and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) error {
	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// EventQueue pushes battle events onto a Redis list.
type EventQueue struct {
	client redis.Cmdable
	name   string
}

func NewEventQueue(client redis.Cmdable, name string) *EventQueue {
	return &EventQueue{client: client, name: name}
}

// Publish serializes ev and appends it to the queue.
func (q *EventQueue) Publish(ctx context.Context, ev models.BattleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal battle event: %w", err)
	}
	if err := q.client.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

var _ battle.EventSink = (*EventQueue)(nil)

const ownerKeyPrefix = "livehub:owner"

// OwnerCache caches owner lookups in front of another store. Redis failures
// are logged and bypassed; the wrapped store stays authoritative.
type OwnerCache struct {
	next   battle.Store
	client redis.Cmdable
	ttl    time.Duration
	logger *logrus.Logger
}

func NewOwnerCache(next battle.Store, client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *OwnerCache {
	return &OwnerCache{next: next, client: client, ttl: ttl, logger: logger}
}

var _ battle.Store = (*OwnerCache)(nil)

func ownerKey(room string) string {
	return fmt.Sprintf("%s:%s", ownerKeyPrefix, room)
}

func (c *OwnerCache) LookupOwnerIdentity(ctx context.Context, room string) (*models.Identity, error) {
	data, err := c.client.Get(ctx, ownerKey(room)).Bytes()
	switch {
	case err == nil:
		var id models.Identity
		if jsonErr := json.Unmarshal(data, &id); jsonErr == nil {
			return &id, nil
		}
		c.logger.WithField("room", room).Warn("discarding unreadable cached owner")
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).WithField("room", room).Warn("owner cache read failed")
	}

	id, err := c.next.LookupOwnerIdentity(ctx, room)
	if err != nil || id == nil {
		return id, err
	}
	if data, err := json.Marshal(id); err == nil {
		if err := c.client.Set(ctx, ownerKey(room), data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("room", room).Debug("owner cache write failed")
		}
	}
	return id, nil
}

func (c *OwnerCache) InsertMergedRoom(ctx context.Context, ownerKey, mergedRoom, title string) error {
	return c.next.InsertMergedRoom(ctx, ownerKey, mergedRoom, title)
}

// RetireRooms retires the rooms in the wrapped store and evicts their cached
// owners so a re-registered room name resolves afresh.
func (c *OwnerCache) RetireRooms(ctx context.Context, rooms []string) error {
	err := c.next.RetireRooms(ctx, rooms)
	if len(rooms) > 0 {
		if delErr := c.client.Del(ctx, lo.Map(rooms, func(r string, _ int) string { return ownerKey(r) })...).Err(); delErr != nil {
			c.logger.WithError(delErr).Debug("owner cache eviction failed")
		}
	}
	return err
}
