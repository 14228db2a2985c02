package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewGate(client, 0), mr
}

func TestGate_MarkThenDuplicate(t *testing.T) {
	g, mr := newTestGate(t)
	ctx := context.Background()

	assert.False(t, g.IsDuplicate(ctx, "IV100"))
	g.MarkProcessed(ctx, "IV100")
	assert.True(t, g.IsDuplicate(ctx, "IV100"))
	assert.False(t, g.IsDuplicate(ctx, "IV101"))

	require.True(t, mr.Exists("payment:IV100"))
	assert.Equal(t, DefaultTTL, mr.TTL("payment:IV100"))
}

func TestGate_MarkerExpires(t *testing.T) {
	g, mr := newTestGate(t)
	ctx := context.Background()

	g.MarkProcessed(ctx, "IV100")
	mr.FastForward(DefaultTTL + time.Second)
	assert.False(t, g.IsDuplicate(ctx, "IV100"))
}

func TestGate_ClaimIsExclusiveUntilReleased(t *testing.T) {
	g, mr := newTestGate(t)
	ctx := context.Background()

	assert.True(t, g.Claim(ctx, "IV100"))
	assert.False(t, g.Claim(ctx, "IV100"))
	assert.True(t, g.Claim(ctx, "IV200"))
	assert.Equal(t, DefaultClaimTTL, mr.TTL("payment:IV100:claim"))

	g.Release(ctx, "IV100")
	assert.True(t, g.Claim(ctx, "IV100"))
	// The claim is not the processed marker.
	assert.False(t, g.IsDuplicate(ctx, "IV100"))
}

func TestGate_NilClientDegrades(t *testing.T) {
	t.Parallel()

	g := NewGate(nil, time.Hour)
	ctx := context.Background()

	g.MarkProcessed(ctx, "IV100")
	assert.False(t, g.IsDuplicate(ctx, "IV100"))
	assert.True(t, g.Claim(ctx, "IV100"))
	assert.True(t, g.Claim(ctx, "IV100"))
	g.Release(ctx, "IV100")
}

func TestGate_UnreachableCacheDegrades(t *testing.T) {
	g, mr := newTestGate(t)
	ctx := context.Background()

	g.MarkProcessed(ctx, "IV100")
	mr.Close()

	assert.False(t, g.IsDuplicate(ctx, "IV100"))
	assert.True(t, g.Claim(ctx, "IV100"))
	g.MarkProcessed(ctx, "IV100")
	g.Release(ctx, "IV100")
}
