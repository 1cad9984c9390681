package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPublisherAppendsEntry(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	closedAt := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	p := NewStreamPublisher(rdb, "civic:test")
	require.NoError(t, p.Publish(ctx, Outcome{Type: TypeFinalized, LawID: "law-1", Status: "passed", Up: 3, Down: 1, ClosedAt: closedAt}))
	require.NoError(t, p.Publish(ctx, Outcome{Type: TypeTiebreak, LawID: "law-2", Status: "pending", Up: 2, Down: 2, ClosedAt: closedAt}))

	entries, err := rdb.XRange(ctx, "civic:test", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeFinalized, entries[0].Values["type"])
	assert.Equal(t, "law-1", entries[0].Values["lawId"])
	assert.Equal(t, "3", entries[0].Values["up"])
	assert.Equal(t, "2025-03-09T12:00:00Z", entries[0].Values["closedAt"])
	assert.Equal(t, "pending", entries[1].Values["status"])
}

func TestStreamPublisherReportsFailure(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	s.Close()

	err := NewStreamPublisher(rdb, "civic:test").Publish(context.Background(), Outcome{Type: TypeFinalized, LawID: "law-1"})
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Outcome{}))
}
