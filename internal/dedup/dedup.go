// Package dedup keeps short-lived "already processed" markers per processor invoice.
//
// The gate is an optimization in front of the store: every failure to reach the
// cache degrades to "not a duplicate" and the store's pending-status guard decides.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultClaimTTL = 2 * time.Minute
)

type Gate struct {
	client   redis.Cmdable
	ttl      time.Duration
	claimTTL time.Duration
}

// NewGate returns a gate backed by client. A nil client yields a gate that never
// reports duplicates and never records anything.
func NewGate(client redis.Cmdable, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{client: client, ttl: ttl, claimTTL: DefaultClaimTTL}
}

func Key(invoiceID string) string {
	return "payment:" + invoiceID
}

func claimKey(invoiceID string) string {
	return Key(invoiceID) + ":claim"
}

func (g *Gate) IsDuplicate(ctx context.Context, invoiceID string) bool {
	if g.client == nil {
		return false
	}
	n, err := g.client.Exists(ctx, Key(invoiceID)).Result()
	if err != nil {
		slog.Default().WarnContext(ctx, "dedup check failed", "invoice_id", invoiceID, "error", err)
		return false
	}
	return n > 0
}

func (g *Gate) MarkProcessed(ctx context.Context, invoiceID string) {
	if g.client == nil {
		return
	}
	if err := g.client.Set(ctx, Key(invoiceID), "1", g.ttl).Err(); err != nil {
		slog.Default().WarnContext(ctx, "dedup mark failed", "invoice_id", invoiceID, "error", err)
	}
}

// Claim takes a short in-flight lock with SET NX so two near-simultaneous
// deliveries of one invoice do not both reach the store. It reports false only
// when another holder owns the claim.
func (g *Gate) Claim(ctx context.Context, invoiceID string) bool {
	if g.client == nil {
		return true
	}
	ok, err := g.client.SetNX(ctx, claimKey(invoiceID), "1", g.claimTTL).Result()
	if err != nil {
		slog.Default().WarnContext(ctx, "dedup claim failed", "invoice_id", invoiceID, "error", err)
		return true
	}
	return ok
}

func (g *Gate) Release(ctx context.Context, invoiceID string) {
	if g.client == nil {
		return
	}
	if err := g.client.Del(ctx, claimKey(invoiceID)).Err(); err != nil {
		slog.Default().WarnContext(ctx, "dedup release failed", "invoice_id", invoiceID, "error", err)
	}
}
