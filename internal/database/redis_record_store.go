package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ interfaces.RecordStore = (*RedisRecordStore)(nil)

// maxTxRetries - число попыток оптимистичной транзакции при конкурентной записи.
const maxTxRetries = 5

// RedisRecordStore хранит коллекцию историй в hash (поле = ID записи, значение = JSON документа).
// Изменения публикуются в канал коллекции, подписка перечитывает полный снимок.
type RedisRecordStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient разбирает URL и проверяет соединение.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisRecordStore(client *redis.Client, logger *zap.Logger) *RedisRecordStore {
	return &RedisRecordStore{
		client: client,
		logger: logger.Named("RedisRecordStore"),
	}
}

func collectionKey(path string) string {
	return "stories:" + path
}

func changesChannel(path string) string {
	return "stories:changed:" + path
}

// Create implements interfaces.RecordStore. Время создания берётся с сервера Redis (TIME).
func (s *RedisRecordStore) Create(ctx context.Context, path string, record models.NewStoryRecord) (string, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return "", fmt.Errorf("%w: failed to read server time: %w", models.ErrPersistenceFailed, err)
	}
	now = now.UTC()

	doc := models.StoryRecord{
		ID:        uuid.NewString(),
		Owner:     record.Owner,
		Keywords:  record.Keywords,
		Narrative: record.Narrative,
		CreatedAt: &now,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal story record: %w", err)
	}

	key := collectionKey(path)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, doc.ID, data)
		pipe.Publish(ctx, changesChannel(path), doc.ID)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create story record", zap.String("path", path), zap.Error(err))
		return "", fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}

	s.logger.Debug("Story record created", zap.String("path", path), zap.String("record_id", doc.ID))
	return doc.ID, nil
}

// UpdateFeedback implements interfaces.RecordStore.
// Документ читается и переписывается под WATCH; меняется только поле feedback.
func (s *RedisRecordStore) UpdateFeedback(ctx context.Context, path string, recordID string, label models.FeedbackLabel) error {
	key := collectionKey(path)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, recordID).Bytes()
		if errors.Is(err, redis.Nil) {
			return models.ErrRecordNotFound
		}
		if err != nil {
			return err
		}

		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("corrupted story record %s: %w", recordID, err)
		}

		now, err := tx.Time(ctx).Result()
		if err != nil {
			return err
		}
		now = now.UTC()
		feedback, err := json.Marshal(models.Feedback{Label: label, SubmittedAt: &now})
		if err != nil {
			return err
		}
		doc["feedback"] = feedback

		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, recordID, data)
			pipe.Publish(ctx, changesChannel(path), recordID)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			s.logger.Debug("Feedback stored", zap.String("path", path), zap.String("record_id", recordID), zap.String("label", string(label)))
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Запись изменилась между чтением и EXEC, повторяем
			continue
		}
		if errors.Is(err, models.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", models.ErrRecordNotFound, recordID)
		}
		s.logger.Error("Failed to store feedback", zap.String("record_id", recordID), zap.Error(err))
		return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}
	return fmt.Errorf("%w: too many concurrent updates of %s", models.ErrPersistenceFailed, recordID)
}

// Watch implements interfaces.RecordStore.
// Подписка на канал оформляется до чтения начального снимка, поэтому изменения между ними не теряются.
func (s *RedisRecordStore) Watch(ctx context.Context, path string, owner string) (<-chan models.Snapshot, error) {
	pubsub := s.client.Subscribe(ctx, changesChannel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}

	out := make(chan models.Snapshot)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		if !s.emit(ctx, out, path, owner) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				if !s.emit(ctx, out, path, owner) {
					return
				}
			}
		}
	}()
	return out, nil
}

// emit читает полный снимок и отправляет его подписчику. false, если контекст отменён.
func (s *RedisRecordStore) emit(ctx context.Context, out chan<- models.Snapshot, path, owner string) bool {
	records, err := s.snapshot(ctx, path, owner)
	if err != nil && ctx.Err() != nil {
		return false
	}
	snap := models.Snapshot{Records: records, Err: err}
	if err != nil {
		s.logger.Warn("Failed to read stories snapshot", zap.String("path", path), zap.Error(err))
		snap.Records = nil
	}
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *RedisRecordStore) snapshot(ctx context.Context, path, owner string) ([]models.StoryRecord, error) {
	all, err := s.client.HGetAll(ctx, collectionKey(path)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]models.StoryRecord, 0, len(all))
	for id, raw := range all {
		var rec models.StoryRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("Skipping corrupted story record", zap.String("record_id", id), zap.Error(err))
			continue
		}
		rec.ID = id
		if rec.Owner != owner {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

