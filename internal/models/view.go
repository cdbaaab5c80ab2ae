package models

// GenerationStatus - состояние запроса генерации.
type GenerationStatus string

const (
	GenerationIdle    GenerationStatus = "idle"
	GenerationLoading GenerationStatus = "loading"
	GenerationSuccess GenerationStatus = "success"
	GenerationError   GenerationStatus = "error"
)

// FailedNarrative показывается вместо истории, если генерация не удалась.
const FailedNarrative = "Failed to generate story."

// ViewState - согласованное состояние сессии, которое видит слой представления.
type ViewState struct {
	AuthReady bool
	SubjectID string // пусто, если личность не установлена

	Feed       []StoryRecord
	FeedErr    error
	FeedLoaded bool

	Generation   GenerationStatus
	Keywords     string
	Narrative    string
	LastRecordID string

	FeedbackPending bool
	Message         string

	CanGenerate       bool
	CanSubmitFeedback bool
}

// Loading - удобный алиас для слоя представления (кнопка генерации отключена).
func (v ViewState) Loading() bool {
	return v.Generation == GenerationLoading
}
