package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"storyteller/internal/database"
	"storyteller/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryRecordStore_PendingTimestampResolves(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := database.NewMemoryRecordStore(database.MemoryStoreOptions{
		ManualTimestamps: true,
		Now:              func() time.Time { return fixed },
	}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Watch(ctx, testPath, "u1")
	require.NoError(t, err)
	assert.Empty(t, nextSnapshot(t, ch).Records)

	id, err := store.Create(ctx, testPath, models.NewStoryRecord{Owner: "u1", Keywords: "k", Narrative: "N"})
	require.NoError(t, err)

	pending := nextSnapshot(t, ch)
	require.Len(t, pending.Records, 1)
	assert.Equal(t, id, pending.Records[0].ID)
	assert.True(t, pending.Records[0].Pending())

	store.ResolvePending(testPath)

	resolved := nextSnapshot(t, ch)
	require.Len(t, resolved.Records, 1)
	require.NotNil(t, resolved.Records[0].CreatedAt)
	assert.True(t, fixed.Equal(*resolved.Records[0].CreatedAt))
}

func TestMemoryRecordStore_AutoTimestamps(t *testing.T) {
	store := database.NewMemoryRecordStore(database.MemoryStoreOptions{}, zap.NewNop())

	_, err := store.Create(context.Background(), testPath, models.NewStoryRecord{Owner: "u1"})
	require.NoError(t, err)

	records := store.Records(testPath)
	require.Len(t, records, 1)
	assert.False(t, records[0].Pending())
}

func TestMemoryRecordStore_UpdateFeedback(t *testing.T) {
	store := database.NewMemoryRecordStore(database.MemoryStoreOptions{}, zap.NewNop())
	ctx := context.Background()

	id, err := store.Create(ctx, testPath, models.NewStoryRecord{Owner: "u1", Keywords: "k", Narrative: "N"})
	require.NoError(t, err)
	before := store.Records(testPath)[0]

	require.NoError(t, store.UpdateFeedback(ctx, testPath, id, models.FeedbackTooShort))
	require.NoError(t, store.UpdateFeedback(ctx, testPath, id, models.FeedbackNotMyStyle))

	after := store.Records(testPath)[0]
	require.NotNil(t, after.Feedback)
	assert.Equal(t, models.FeedbackNotMyStyle, after.Feedback.Label)
	assert.NotNil(t, after.Feedback.SubmittedAt)
	assert.Equal(t, before.Narrative, after.Narrative)
	assert.Equal(t, before.Keywords, after.Keywords)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)

	err = store.UpdateFeedback(ctx, testPath, "missing", models.FeedbackLoved)
	assert.True(t, errors.Is(err, models.ErrRecordNotFound))
}

func TestMemoryRecordStore_WatchFiltersOwnerAndClosesOnCancel(t *testing.T) {
	store := database.NewMemoryRecordStore(database.MemoryStoreOptions{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := store.Create(context.Background(), testPath, models.NewStoryRecord{Owner: "u2"})
	require.NoError(t, err)

	ch, err := store.Watch(ctx, testPath, "u1")
	require.NoError(t, err)
	assert.Empty(t, nextSnapshot(t, ch).Records)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel was not closed after cancel")
	}
}
