package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ interfaces.RecordStore = (*FirestoreRecordStore)(nil)

// NewFirebaseApp инициализирует Firebase App. Без credentialsPath используются
// Application Default Credentials (или FIRESTORE_EMULATOR_HOST).
func NewFirebaseApp(ctx context.Context, projectID, credentialsPath string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Firebase App: %w", err)
	}
	return app, nil
}

// firestoreStory - документ истории в Firestore.
type firestoreStory struct {
	UserID    string             `firestore:"userId"`
	Keywords  string             `firestore:"keywords"`
	Story     string             `firestore:"story"`
	Timestamp *time.Time         `firestore:"timestamp"`
	Feedback  *firestoreFeedback `firestore:"feedback"`
}

type firestoreFeedback struct {
	Type      string     `firestore:"type"`
	Timestamp *time.Time `firestore:"timestamp"`
}

func (d firestoreStory) toRecord(id string) models.StoryRecord {
	rec := models.StoryRecord{
		ID:        id,
		Owner:     d.UserID,
		Keywords:  d.Keywords,
		Narrative: d.Story,
		CreatedAt: nonZeroTime(d.Timestamp),
	}
	if d.Feedback != nil && d.Feedback.Type != "" {
		rec.Feedback = &models.Feedback{
			Label:       models.FeedbackLabel(d.Feedback.Type),
			SubmittedAt: nonZeroTime(d.Feedback.Timestamp),
		}
	}
	return rec
}

func nonZeroTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// FirestoreRecordStore хранит истории в Firestore по пути artifacts/{appId}/users/{uid}/stories.
type FirestoreRecordStore struct {
	client *firestore.Client
	logger *zap.Logger
}

func NewFirestoreRecordStore(client *firestore.Client, logger *zap.Logger) *FirestoreRecordStore {
	return &FirestoreRecordStore{client: client, logger: logger.Named("FirestoreRecordStore")}
}

// Create implements interfaces.RecordStore.
func (s *FirestoreRecordStore) Create(ctx context.Context, path string, record models.NewStoryRecord) (string, error) {
	ref, _, err := s.client.Collection(path).Add(ctx, map[string]interface{}{
		"userId":    record.Owner,
		"keywords":  record.Keywords,
		"story":     record.Narrative,
		"timestamp": firestore.ServerTimestamp,
		"feedback":  nil,
	})
	if err != nil {
		s.logger.Error("Failed to add story document", zap.String("path", path), zap.Error(err))
		return "", fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}
	s.logger.Debug("Story document added", zap.String("path", path), zap.String("record_id", ref.ID))
	return ref.ID, nil
}

// UpdateFeedback implements interfaces.RecordStore. Update меняет только поле feedback.
func (s *FirestoreRecordStore) UpdateFeedback(ctx context.Context, path string, recordID string, label models.FeedbackLabel) error {
	_, err := s.client.Collection(path).Doc(recordID).Update(ctx, []firestore.Update{
		{
			Path: "feedback",
			Value: map[string]interface{}{
				"type":      string(label),
				"timestamp": firestore.ServerTimestamp,
			},
		},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", models.ErrRecordNotFound, recordID)
		}
		s.logger.Error("Failed to update feedback", zap.String("record_id", recordID), zap.Error(err))
		return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}
	return nil
}

// Watch implements interfaces.RecordStore. Ошибка прослушивания отправляется подписчику,
// после чего канал закрывается.
func (s *FirestoreRecordStore) Watch(ctx context.Context, path string, owner string) (<-chan models.Snapshot, error) {
	it := s.client.Collection(path).Where("userId", "==", owner).Snapshots(ctx)

	out := make(chan models.Snapshot)
	go func() {
		defer close(out)
		defer it.Stop()

		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				s.logger.Warn("Stories listener failed", zap.String("path", path), zap.Error(err))
				select {
				case out <- models.Snapshot{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			snap := s.readSnapshot(qs)
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *FirestoreRecordStore) readSnapshot(qs *firestore.QuerySnapshot) models.Snapshot {
	docs, err := qs.Documents.GetAll()
	if err != nil {
		return models.Snapshot{Err: err}
	}
	records := make([]models.StoryRecord, 0, len(docs))
	for _, doc := range docs {
		var d firestoreStory
		if err := doc.DataTo(&d); err != nil {
			s.logger.Warn("Skipping malformed story document", zap.String("record_id", doc.Ref.ID), zap.Error(err))
			continue
		}
		records = append(records, d.toRecord(doc.Ref.ID))
	}
	return models.Snapshot{Records: records}
}
