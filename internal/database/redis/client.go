// Package redis publishes the live miner status and current job to Redis so
// dashboards can read them without touching the miner.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the miner
type Client struct {
	rdb       *redis.Client
	keyPrefix string
	statusTTL time.Duration
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	KeyPrefix    string
	StatusTTL    time.Duration
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns settings for url with a two minute status TTL.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		KeyPrefix:    "miner",
		StatusTTL:    2 * time.Minute,
		PoolSize:     4,
		MaxRetries:   1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewClient creates a new Redis client
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	return newClient(ctx, redis.NewClient(opts), cfg)
}

func newClient(ctx context.Context, rdb *redis.Client, cfg *Config) (*Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "miner"
	}
	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &Client{rdb: rdb, keyPrefix: prefix, statusTTL: ttl}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// StatusKey returns the status hash key for address and ticker.
func (c *Client) StatusKey(address, ticker string) string {
	return fmt.Sprintf("%s:%s:%s", c.keyPrefix, address, ticker)
}

// JobKey returns the current job key for ticker.
func (c *Client) JobKey(ticker string) string {
	return fmt.Sprintf("%s:job:%s", c.keyPrefix, ticker)
}

// Status is the cached miner status.
type Status struct {
	Accepted   uint64
	Rejected   uint64
	HashRate   float64
	Challenge  string
	Difficulty int
	UpdatedAt  time.Time
}

// SetStatus writes the status hash and refreshes its expiry.
func (c *Client) SetStatus(ctx context.Context, address, ticker string, st Status) error {
	key := c.StatusKey(address, ticker)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"accepted", st.Accepted,
		"rejected", st.Rejected,
		"hash_rate", strconv.FormatFloat(st.HashRate, 'f', 2, 64),
		"challenge", st.Challenge,
		"difficulty", st.Difficulty,
		"updated_at", st.UpdatedAt.Unix(),
	)
	pipe.Expire(ctx, key, c.statusTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

// GetStatus reads the status hash. A missing key yields a zero Status and
// found == false.
func (c *Client) GetStatus(ctx context.Context, address, ticker string) (Status, bool, error) {
	vals, err := c.rdb.HGetAll(ctx, c.StatusKey(address, ticker)).Result()
	if err != nil {
		return Status{}, false, fmt.Errorf("failed to get status: %w", err)
	}
	if len(vals) == 0 {
		return Status{}, false, nil
	}

	var st Status
	st.Accepted, _ = strconv.ParseUint(vals["accepted"], 10, 64)
	st.Rejected, _ = strconv.ParseUint(vals["rejected"], 10, 64)
	st.HashRate, _ = strconv.ParseFloat(vals["hash_rate"], 64)
	st.Challenge = vals["challenge"]
	st.Difficulty, _ = strconv.Atoi(vals["difficulty"])
	if ts, err := strconv.ParseInt(vals["updated_at"], 10, 64); err == nil {
		st.UpdatedAt = time.Unix(ts, 0)
	}
	return st, true, nil
}

// SetCurrentJob stores the current job document for ticker
func (c *Client) SetCurrentJob(ctx context.Context, ticker string, jobData any) error {
	jsonData, err := sonic.Marshal(jobData)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	if err := c.rdb.Set(ctx, c.JobKey(ticker), jsonData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set current job: %w", err)
	}

	return nil
}

// GetCurrentJob retrieves the current job document for ticker
func (c *Client) GetCurrentJob(ctx context.Context, ticker string, dest any) error {
	jsonData, err := c.rdb.Get(ctx, c.JobKey(ticker)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("no current job")
		}
		return fmt.Errorf("failed to get current job: %w", err)
	}

	if err := sonic.Unmarshal(jsonData, dest); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	return nil
}

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}
