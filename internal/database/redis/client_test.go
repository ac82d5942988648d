package redis

import (
	"context"
	"testing"
	"time"
)

func TestKeys(t *testing.T) {
	c := &Client{keyPrefix: "miner"}

	if got := c.StatusKey("1addr", "PEPE"); got != "miner:1addr:PEPE" {
		t.Errorf("StatusKey = %q", got)
	}
	if got := c.JobKey("PEPE"); got != "miner:job:PEPE" {
		t.Errorf("JobKey = %q", got)
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient(context.Background(), DefaultConfig("not a url")); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig("redis://127.0.0.1:1/0")
	cfg.DialTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewClient(ctx, cfg); err == nil {
		t.Error("expected ping failure")
	}
}
