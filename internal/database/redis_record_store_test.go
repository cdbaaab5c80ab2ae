package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"storyteller/internal/database"
	"storyteller/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPath = "artifacts/app-test/users/u1/stories"

func setupRedisStore(t *testing.T) (*database.RedisRecordStore, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := database.NewRedisClient(context.Background(), "redis://"+s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return database.NewRedisRecordStore(client, zap.NewNop()), client
}

func nextSnapshot(t *testing.T, ch <-chan models.Snapshot) models.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "snapshot channel closed unexpectedly")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return models.Snapshot{}
	}
}

func TestRedisRecordStore_CreateIsObservedBySubscription(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Watch(ctx, testPath, "u1")
	require.NoError(t, err)
	initial := nextSnapshot(t, ch)
	require.NoError(t, initial.Err)
	assert.Empty(t, initial.Records)

	id, err := store.Create(ctx, testPath, models.NewStoryRecord{
		Owner: "u1", Keywords: "robot, moon", Narrative: "A robot on the moon.",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap := nextSnapshot(t, ch)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Records, 1)
	rec := snap.Records[0]
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "u1", rec.Owner)
	assert.Equal(t, "robot, moon", rec.Keywords)
	assert.Equal(t, "A robot on the moon.", rec.Narrative)
	assert.NotNil(t, rec.CreatedAt)
	assert.Nil(t, rec.Feedback)
}

func TestRedisRecordStore_InitialSnapshotContainsExistingRecords(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.Create(ctx, testPath, models.NewStoryRecord{Owner: "u1", Keywords: "a", Narrative: "A"})
	require.NoError(t, err)
	_, err = store.Create(ctx, testPath, models.NewStoryRecord{Owner: "u2", Keywords: "b", Narrative: "B"})
	require.NoError(t, err)

	ch, err := store.Watch(ctx, testPath, "u1")
	require.NoError(t, err)

	snap := nextSnapshot(t, ch)
	require.Len(t, snap.Records, 1, "records of other owners are filtered out")
	assert.Equal(t, "u1", snap.Records[0].Owner)
}

func TestRedisRecordStore_UpdateFeedbackMergesSingleField(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := store.Create(ctx, testPath, models.NewStoryRecord{Owner: "u1", Keywords: "k", Narrative: "N"})
	require.NoError(t, err)

	ch, err := store.Watch(ctx, testPath, "u1")
	require.NoError(t, err)
	before := nextSnapshot(t, ch).Records[0]

	require.NoError(t, store.UpdateFeedback(ctx, testPath, id, models.FeedbackLoved))
	after := nextSnapshot(t, ch).Records[0]

	require.NotNil(t, after.Feedback)
	assert.Equal(t, models.FeedbackLoved, after.Feedback.Label)
	assert.NotNil(t, after.Feedback.SubmittedAt)
	assert.Equal(t, before.Owner, after.Owner)
	assert.Equal(t, before.Keywords, after.Keywords)
	assert.Equal(t, before.Narrative, after.Narrative)
	assert.True(t, before.CreatedAt.Equal(*after.CreatedAt))

	// Повторная отправка той же метки оставляет ту же метку
	require.NoError(t, store.UpdateFeedback(ctx, testPath, id, models.FeedbackLoved))
	again := nextSnapshot(t, ch).Records[0]
	assert.Equal(t, models.FeedbackLoved, again.Feedback.Label)

	// Другая метка заменяет предыдущую
	require.NoError(t, store.UpdateFeedback(ctx, testPath, id, models.FeedbackMoreHumor))
	last := nextSnapshot(t, ch).Records[0]
	assert.Equal(t, models.FeedbackMoreHumor, last.Feedback.Label)
	assert.Equal(t, "N", last.Narrative)
}

func TestRedisRecordStore_UpdateFeedbackMissingRecord(t *testing.T) {
	store, _ := setupRedisStore(t)

	err := store.UpdateFeedback(context.Background(), testPath, "missing", models.FeedbackLoved)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrRecordNotFound))
}

func TestRedisRecordStore_WatchClosesOnCancel(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := store.Watch(ctx, testPath, "u1")
	require.NoError(t, err)
	nextSnapshot(t, ch)

	cancel()

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel was not closed after cancel")
	}
}

func TestRedisRecordStore_CreateFailsWhenRedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := database.NewRedisClient(context.Background(), "redis://"+s.Addr())
	require.NoError(t, err)
	defer client.Close()
	store := database.NewRedisRecordStore(client, zap.NewNop())
	s.Close()

	_, err = store.Create(context.Background(), testPath, models.NewStoryRecord{Owner: "u1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPersistenceFailed))
}
