// Package leaderboard is the ordered index: a redis sorted set mapping wallet
// address to fiat volume, serving rank and top-K range reads.
package leaderboard

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Key is the sorted set holding the live leaderboard.
const Key = "leaderboard:total_volume"

// stagingKey is where Rebuild assembles the new index before the atomic
// RENAME over the live key.
const stagingKey = Key + ":rebuild"

// Entry is one leaderboard row. Rank is 1-based and only set on reads.
type Entry struct {
	Rank     int64   `json:"rank"`
	Address  string  `json:"address"`
	TotalUSD float64 `json:"totalVolume"`
}

type Client struct {
	rdb *redis.Client
}

// Connect dials redis from a redis:// URL and verifies the connection.
func Connect(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %v", err)
	}
	log.Println("Successfully connected to Redis leaderboard")
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Upsert sets the wallet's score to its current fiat total.
func (c *Client) Upsert(ctx context.Context, address string, totalUSD float64) error {
	return c.rdb.ZAdd(ctx, Key, redis.Z{Score: totalUSD, Member: address}).Err()
}

// Remove drops the wallet from the index.
func (c *Client) Remove(ctx context.Context, address string) error {
	return c.rdb.ZRem(ctx, Key, address).Err()
}

// RankDesc returns the wallet's 1-based rank by descending score, or false
// when the wallet is not indexed.
func (c *Client) RankDesc(ctx context.Context, address string) (int64, bool, error) {
	rank, err := c.rdb.ZRevRank(ctx, Key, address).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank + 1, true, nil
}

// Card returns the number of indexed wallets.
func (c *Client) Card(ctx context.Context) (int64, error) {
	return c.rdb.ZCard(ctx, Key).Result()
}

// RangeDesc reads count entries starting at offset, best first.
func (c *Client) RangeDesc(ctx context.Context, offset, count int64) ([]Entry, error) {
	if count <= 0 {
		return []Entry{}, nil
	}
	zs, err := c.rdb.ZRevRangeWithScores(ctx, Key, offset, offset+count-1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(zs))
	for i, z := range zs {
		addr, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Rank:     offset + int64(i) + 1,
			Address:  addr,
			TotalUSD: z.Score,
		})
	}
	return entries, nil
}

// Rebuild replaces the whole index with the given rows. The new set is
// assembled under a staging key and swapped in with RENAME, so readers never
// observe a half-built leaderboard.
func (c *Client) Rebuild(ctx context.Context, rows []Entry) error {
	if len(rows) == 0 {
		return c.rdb.Del(ctx, Key).Err()
	}

	members := make([]redis.Z, 0, len(rows))
	for _, r := range rows {
		members = append(members, redis.Z{Score: r.TotalUSD, Member: r.Address})
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, stagingKey)
	pipe.ZAdd(ctx, stagingKey, members...)
	pipe.Rename(ctx, stagingKey, Key)
	_, err := pipe.Exec(ctx)
	return err
}
