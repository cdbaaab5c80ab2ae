package interfaces

import (
	"context"

	"storyteller/internal/models"
)

// RecordStore определяет операции с коллекцией историй пользователя.
//
//go:generate mockery --name RecordStore --output ./mocks --outpkg mocks --case=underscore
type RecordStore interface {
	// Create создаёт запись в коллекции path. ID и время создания назначает хранилище.
	Create(ctx context.Context, path string, record models.NewStoryRecord) (string, error)

	// UpdateFeedback выставляет поле feedback записи (merge одного поля, остальные поля не трогаются).
	// Возвращает models.ErrRecordNotFound, если записи нет.
	UpdateFeedback(ctx context.Context, path string, recordID string, label models.FeedbackLabel) error

	// Watch открывает живую подписку на коллекцию path, отфильтрованную по владельцу.
	// Каждое сообщение содержит полный снимок коллекции. Канал закрывается после отмены ctx.
	Watch(ctx context.Context, path string, owner string) (<-chan models.Snapshot, error)
}
