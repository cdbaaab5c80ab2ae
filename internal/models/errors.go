package models

import (
	"errors"
	"fmt"
)

// Ошибки клиента
var (
	// Identity
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrNoSession        = errors.New("no stored session")

	// Generation
	ErrEmptyKeywords      = errors.New("please enter some keywords for your story")
	ErrGenerationInFlight = errors.New("story generation already in progress")
	ErrGenerationFailed   = errors.New("story generation failed")
	ErrStaleResponse      = errors.New("identity changed while generation was in flight")
	ErrPersistenceFailed  = errors.New("story was generated but could not be saved")

	// Records & feedback
	ErrRecordNotFound       = errors.New("story record not found")
	ErrMissingRecordID      = errors.New("story id missing")
	ErrInvalidFeedbackLabel = errors.New("invalid feedback label")
	ErrSubscriptionFailed   = errors.New("error fetching stories")
)

// RemoteError - ответ удалённого сервиса с не-2xx статусом.
type RemoteError struct {
	StatusCode int
	Status     string // текст статуса, например "Internal Server Error"
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("Backend error: %d %s - %s", e.StatusCode, e.Status, e.Body)
}

// Unwrap позволяет проверять errors.Is(err, ErrGenerationFailed).
func (e *RemoteError) Unwrap() error {
	return ErrGenerationFailed
}
