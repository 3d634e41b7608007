// Package cachesvc provides a Redis-backed cache for hot read paths.
package cachesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/achievement"
)

type leaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	log    core.Logger
}

var _ achievement.Cache = (*leaderboardCache)(nil)

// NewLeaderboardCache connects to Redis and returns an achievement.Cache.
// A connection failure is reported but not fatal; the caller runs without
// caching.
func NewLeaderboardCache(conf *core.Config, log core.Logger) (achievement.Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &leaderboardCache{client: client, ttl: conf.Redis.LeaderboardTTL, log: log}, nil
}

func leaderboardKey(limit int) string {
	return "leaderboard:" + strconv.Itoa(limit)
}

func (c *leaderboardCache) GetLeaderboard(ctx context.Context, limit int) ([]achievement.LeaderboardEntry, bool) {
	data, err := c.client.Get(ctx, leaderboardKey(limit)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn(fmt.Sprintf("reading leaderboard cache: %v", err))
		}
		return nil, false
	}

	var entries []achievement.LeaderboardEntry
	if err = json.Unmarshal(data, &entries); err != nil {
		c.log.Warn(fmt.Sprintf("decoding leaderboard cache: %v", err))
		return nil, false
	}
	return entries, true
}

func (c *leaderboardCache) SetLeaderboard(ctx context.Context, limit int, entries []achievement.LeaderboardEntry) {
	data, err := json.Marshal(entries)
	if err != nil {
		c.log.Warn(fmt.Sprintf("encoding leaderboard cache: %v", err))
		return
	}
	if err = c.client.Set(ctx, leaderboardKey(limit), data, c.ttl).Err(); err != nil {
		c.log.Warn(fmt.Sprintf("writing leaderboard cache: %v", err))
	}
}
