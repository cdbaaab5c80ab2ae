package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FeedbackLabel - метка отзыва пользователя о сгенерированной истории.
type FeedbackLabel string

const (
	FeedbackLoved         FeedbackLabel = "loved"
	FeedbackTooShort      FeedbackLabel = "too_short"
	FeedbackMoreHumor     FeedbackLabel = "more_humor"
	FeedbackMoreAdventure FeedbackLabel = "more_adventure"
	FeedbackNotMyStyle    FeedbackLabel = "not_my_style"
)

// FeedbackLabels возвращает все допустимые метки в порядке отображения кнопок.
func FeedbackLabels() []FeedbackLabel {
	return []FeedbackLabel{
		FeedbackLoved,
		FeedbackTooShort,
		FeedbackMoreHumor,
		FeedbackMoreAdventure,
		FeedbackNotMyStyle,
	}
}

// Valid сообщает, входит ли метка в фиксированный набор.
func (l FeedbackLabel) Valid() bool {
	switch l {
	case FeedbackLoved, FeedbackTooShort, FeedbackMoreHumor, FeedbackMoreAdventure, FeedbackNotMyStyle:
		return true
	}
	return false
}

// ParseFeedbackLabel разбирает строку в FeedbackLabel.
func ParseFeedbackLabel(s string) (FeedbackLabel, error) {
	label := FeedbackLabel(strings.ToLower(strings.TrimSpace(s)))
	if !label.Valid() {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidFeedbackLabel, s)
	}
	return label, nil
}

// Feedback - отзыв, прикреплённый к истории.
type Feedback struct {
	Label       FeedbackLabel `json:"type"`
	SubmittedAt *time.Time    `json:"timestamp,omitempty"` // nil, пока сервер не проставил время
}

// StoryRecord - сохранённая история пользователя.
type StoryRecord struct {
	ID        string     `json:"id"`
	Owner     string     `json:"userId"`
	Keywords  string     `json:"keywords"`
	Narrative string     `json:"story"`
	CreatedAt *time.Time `json:"timestamp,omitempty"` // nil = ожидает серверного времени
	Feedback  *Feedback  `json:"feedback"`
}

// Pending сообщает, что серверная метка времени ещё не пришла.
func (r StoryRecord) Pending() bool {
	return r.CreatedAt == nil
}

// NewStoryRecord - поля, которые клиент передаёт хранилищу при создании записи.
// ID и время создания назначает хранилище.
type NewStoryRecord struct {
	Owner     string
	Keywords  string
	Narrative string
}

// Snapshot - полный снимок коллекции, доставляемый подпиской.
// Если Err != nil, Records не заполнен.
type Snapshot struct {
	Records []StoryRecord
	Err     error
}

// CollectionPath возвращает путь коллекции историй пользователя в рамках развёртывания.
func CollectionPath(scopeID, owner string) string {
	return fmt.Sprintf("artifacts/%s/users/%s/stories", scopeID, owner)
}

// SortRecords сортирует истории по убыванию времени создания.
// Записи без серверного времени считаются "сейчас" и идут первыми.
func SortRecords(records []StoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch {
		case a.Pending() && b.Pending():
			return a.ID < b.ID
		case a.Pending():
			return true
		case b.Pending():
			return false
		case !a.CreatedAt.Equal(*b.CreatedAt):
			return a.CreatedAt.After(*b.CreatedAt)
		default:
			return a.ID < b.ID
		}
	})
}
