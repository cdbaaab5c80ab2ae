package mocks

import (
	"context"
	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"github.com/stretchr/testify/mock"
)

var _ interfaces.RecordStore = (*RecordStore)(nil)

// Mock RecordStore
type RecordStore struct {
	mock.Mock
}

func (m *RecordStore) Create(ctx context.Context, path string, record models.NewStoryRecord) (string, error) {
	args := m.Called(ctx, path, record)
	return args.String(0), args.Error(1)
}

func (m *RecordStore) UpdateFeedback(ctx context.Context, path string, recordID string, label models.FeedbackLabel) error {
	args := m.Called(ctx, path, recordID, label)
	return args.Error(0)
}

// Watch принимает в Return как chan, так и <-chan.
func (m *RecordStore) Watch(ctx context.Context, path string, owner string) (<-chan models.Snapshot, error) {
	args := m.Called(ctx, path, owner)
	switch ch := args.Get(0).(type) {
	case chan models.Snapshot:
		return ch, args.Error(1)
	case <-chan models.Snapshot:
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}
