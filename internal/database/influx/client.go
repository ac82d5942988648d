// Package influx writes mining time series (round hash rate, share outcomes,
// job changes) to InfluxDB.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	host     string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Host tags every point so several miners can share a bucket.
	Host string
}

// NewClient creates a new InfluxDB client
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		host:     cfg.Host,
	}, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Errors exposes asynchronous write failures.
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

func (c *Client) tags(ticker string) map[string]string {
	tags := map[string]string{"ticker": ticker}
	if c.host != "" {
		tags["host"] = c.host
	}
	return tags
}

// WriteRoundMetric records one search round
func (c *Client) WriteRoundMetric(ticker string, hashes uint64, solutions int, elapsed time.Duration, hashRate float64, bestNibbles int, at time.Time) {
	c.writeAPI.WritePoint(RoundPoint(c.tags(ticker), hashes, solutions, elapsed, hashRate, bestNibbles, at))
}

// WriteShareMetric records one submission outcome
func (c *Client) WriteShareMetric(ticker, outcome string, statusCode int, at time.Time) {
	c.writeAPI.WritePoint(SharePoint(c.tags(ticker), outcome, statusCode, at))
}

// WriteJobMetric records a job change
func (c *Client) WriteJobMetric(ticker, tokenID string, difficulty int, at time.Time) {
	c.writeAPI.WritePoint(JobPoint(c.tags(ticker), tokenID, difficulty, at))
}

// RoundPoint builds a "rounds" point.
func RoundPoint(tags map[string]string, hashes uint64, solutions int, elapsed time.Duration, hashRate float64, bestNibbles int, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"hashes":       int64(hashes),
		"solutions":    solutions,
		"duration_ms":  elapsed.Milliseconds(),
		"hash_rate":    hashRate,
		"best_nibbles": bestNibbles,
	}
	return write.NewPoint("rounds", tags, fields, at)
}

// SharePoint builds a "shares" point.
func SharePoint(base map[string]string, outcome string, statusCode int, at time.Time) *write.Point {
	tags := make(map[string]string, len(base)+1)
	for k, v := range base {
		tags[k] = v
	}
	tags["outcome"] = outcome

	fields := map[string]interface{}{
		"count":       1,
		"status_code": statusCode,
	}
	return write.NewPoint("shares", tags, fields, at)
}

// JobPoint builds a "jobs" point.
func JobPoint(base map[string]string, tokenID string, difficulty int, at time.Time) *write.Point {
	tags := make(map[string]string, len(base)+1)
	for k, v := range base {
		tags[k] = v
	}
	tags["token_id"] = tokenID

	fields := map[string]interface{}{
		"difficulty": difficulty,
	}
	return write.NewPoint("jobs", tags, fields, at)
}
