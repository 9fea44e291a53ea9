package spool_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisworks/dlrepick/internal/model"
	"github.com/seisworks/dlrepick/internal/spool"
)

func TestFSQueuePublishPollAck(t *testing.T) {
	root := t.TempDir()
	q, err := spool.NewWorkQueue(root, nil)
	require.NoError(t, err)

	ctx := context.Background()
	tok1, err := q.Publish(ctx, "ev1", []byte(`{"a":1}`))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	tok2, err := q.Publish(ctx, "ev2", []byte(`{"b":2}`))
	require.NoError(t, err)

	items, err := q.PollPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// newest first
	assert.Equal(t, tok2, items[0].Token)
	assert.Equal(t, "ev2", items[0].EventID)
	assert.Equal(t, tok1, items[1].Token)
	assert.JSONEq(t, `{"b":2}`, string(items[0].Payload))

	require.NoError(t, q.Ack(ctx, tok2))
	items, err = q.PollPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, tok1, items[0].Token)

	// acked pointer was archived, not deleted
	_, err = os.Stat(filepath.Join(root, "archived", tok2))
	assert.NoError(t, err)
}

func TestFSQueueAckIdempotent(t *testing.T) {
	q, err := spool.NewWorkQueue(t.TempDir(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	tok, err := q.Publish(ctx, "ev1", []byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, tok))
	require.NoError(t, q.Ack(ctx, tok))
}

func TestFSQueueSkipsBrokenPointer(t *testing.T) {
	root := t.TempDir()
	q, err := spool.NewWorkQueue(root, nil)
	require.NoError(t, err)

	ctx := context.Background()
	tok, err := q.Publish(ctx, "ev1", []byte(`{}`))
	require.NoError(t, err)

	// corrupt the store: remove the data file behind the pointer
	dataDir := filepath.Join(root, "events", "ev1", "in")
	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, os.Remove(filepath.Join(dataDir, e.Name())))
	}

	items, err := q.PollPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	// the broken pointer is left for manual cleanup
	_, err = os.Lstat(filepath.Join(root, "pending", tok))
	assert.NoError(t, err)
}

func TestFSQueueMaxLimit(t *testing.T) {
	q, err := spool.NewWorkQueue(t.TempDir(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.Publish(ctx, "ev1", []byte(`{}`))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	items, err := q.PollPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestWorkItemRoundTrip(t *testing.T) {
	q, err := spool.NewWorkQueue(t.TempDir(), nil)
	require.NoError(t, err)

	item := model.WorkItem{
		EventID:   "gfz2026abcd",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Picks: []model.Pick{
			{
				ID:        "pick-1",
				Stream:    model.StreamID{Network: "GE", Station: "APE", Location: "", Channel: "BHZ"},
				Time:      time.Date(2026, 3, 1, 12, 3, 4, 0, time.UTC),
				PhaseHint: "P",
			},
		},
	}
	ctx := context.Background()
	_, err = spool.PublishWorkItem(ctx, q, item)
	require.NoError(t, err)

	items, err := q.PollPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "gfz2026abcd", items[0].EventID)

	got, err := spool.DecodeWorkItem(items[0])
	require.NoError(t, err)
	assert.Equal(t, item.EventID, got.EventID)
	require.Len(t, got.Picks, 1)
	assert.Equal(t, "pick-1", got.Picks[0].ID)
	assert.True(t, got.Picks[0].Time.Equal(item.Picks[0].Time))
}
