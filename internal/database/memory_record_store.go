package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ interfaces.RecordStore = (*MemoryRecordStore)(nil)

// MemoryStoreOptions настраивает in-memory хранилище.
type MemoryStoreOptions struct {
	// ManualTimestamps оставляет новые записи без времени создания до вызова ResolvePending.
	ManualTimestamps bool
	// Now - источник "серверного" времени.
	Now func() time.Time
}

type memoryWatcher struct {
	owner  string
	signal chan struct{}
}

// MemoryRecordStore - хранилище в памяти процесса. Ведёт себя как документная БД
// с компенсацией задержки: запись сначала видна без серверного времени, затем с ним.
type MemoryRecordStore struct {
	opts   MemoryStoreOptions
	logger *zap.Logger

	mu          sync.Mutex
	collections map[string]map[string]models.StoryRecord
	watchers    map[string]map[*memoryWatcher]struct{}
}

func NewMemoryRecordStore(opts MemoryStoreOptions, logger *zap.Logger) *MemoryRecordStore {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MemoryRecordStore{
		opts:        opts,
		logger:      logger.Named("MemoryRecordStore"),
		collections: make(map[string]map[string]models.StoryRecord),
		watchers:    make(map[string]map[*memoryWatcher]struct{}),
	}
}

// Create implements interfaces.RecordStore.
func (s *MemoryRecordStore) Create(ctx context.Context, path string, record models.NewStoryRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	coll, ok := s.collections[path]
	if !ok {
		coll = make(map[string]models.StoryRecord)
		s.collections[path] = coll
	}
	coll[id] = models.StoryRecord{
		ID:        id,
		Owner:     record.Owner,
		Keywords:  record.Keywords,
		Narrative: record.Narrative,
	}
	s.notifyLocked(path)
	s.mu.Unlock()

	s.logger.Debug("Story record created", zap.String("path", path), zap.String("record_id", id))

	if !s.opts.ManualTimestamps {
		s.ResolvePending(path)
	}
	return id, nil
}

// ResolvePending проставляет серверное время всем записям коллекции, у которых его нет.
func (s *MemoryRecordStore) ResolvePending(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[path]
	changed := false
	for id, rec := range coll {
		if rec.CreatedAt != nil {
			continue
		}
		now := s.opts.Now().UTC()
		rec.CreatedAt = &now
		coll[id] = rec
		changed = true
	}
	if changed {
		s.notifyLocked(path)
	}
}

// UpdateFeedback implements interfaces.RecordStore.
func (s *MemoryRecordStore) UpdateFeedback(ctx context.Context, path string, recordID string, label models.FeedbackLabel) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collections[path][recordID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, recordID)
	}
	now := s.opts.Now().UTC()
	rec.Feedback = &models.Feedback{Label: label, SubmittedAt: &now}
	s.collections[path][recordID] = rec
	s.notifyLocked(path)
	return nil
}

// Watch implements interfaces.RecordStore. Промежуточные изменения могут схлопываться:
// подписчик всегда получает актуальный полный снимок.
func (s *MemoryRecordStore) Watch(ctx context.Context, path string, owner string) (<-chan models.Snapshot, error) {
	w := &memoryWatcher{owner: owner, signal: make(chan struct{}, 1)}
	w.signal <- struct{}{} // начальный снимок

	s.mu.Lock()
	if s.watchers[path] == nil {
		s.watchers[path] = make(map[*memoryWatcher]struct{})
	}
	s.watchers[path][w] = struct{}{}
	s.mu.Unlock()

	out := make(chan models.Snapshot)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.watchers[path], w)
			s.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
			}
			snap := models.Snapshot{Records: s.snapshot(path, owner)}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Records возвращает копию коллекции без фильтрации.
func (s *MemoryRecordStore) Records(path string) []models.StoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StoryRecord, 0, len(s.collections[path]))
	for _, rec := range s.collections[path] {
		out = append(out, rec)
	}
	models.SortRecords(out)
	return out
}

func (s *MemoryRecordStore) snapshot(path, owner string) []models.StoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]models.StoryRecord, 0, len(s.collections[path]))
	for _, rec := range s.collections[path] {
		if rec.Owner == owner {
			records = append(records, rec)
		}
	}
	return records
}

func (s *MemoryRecordStore) notifyLocked(path string) {
	for w := range s.watchers[path] {
		select {
		case w.signal <- struct{}{}:
		default:
			// снимок уже запрошен
		}
	}
}
