package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"go.uber.org/zap"
)

// FeedbackState - наблюдаемое состояние контроллера отзывов.
type FeedbackState struct {
	Pending  bool
	RecordID string
	Label    models.FeedbackLabel
	Message  string
	Err      error
}

// FeedbackController прикрепляет отзыв к сохранённой истории.
// Локальное представление не меняется: изменение придёт со следующим снимком ленты.
type FeedbackController struct {
	subjects SubjectSource
	store    interfaces.RecordStore
	metrics  *Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	state    FeedbackState
	inFlight int

	listenersMu sync.Mutex
	listeners   map[int]func(FeedbackState)
	nextID      int
}

func NewFeedbackController(subjects SubjectSource, store interfaces.RecordStore, metrics *Metrics, logger *zap.Logger) *FeedbackController {
	return &FeedbackController{
		subjects:  subjects,
		store:     store,
		metrics:   metrics,
		logger:    logger.Named("FeedbackController"),
		listeners: make(map[int]func(FeedbackState)),
	}
}

// Submit выставляет feedback = {label, server timestamp} записи recordID текущего пользователя.
// Повторная отправка разрешена, побеждает последняя запись.
func (c *FeedbackController) Submit(ctx context.Context, recordID string, label models.FeedbackLabel) error {
	owner, ok := c.subjects.Subject()
	if !ok {
		c.reject(recordID, label, msgNotAuthenticated, models.ErrNotAuthenticated)
		return models.ErrNotAuthenticated
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		c.reject(recordID, label, "Story ID missing.", models.ErrMissingRecordID)
		return models.ErrMissingRecordID
	}
	if !label.Valid() {
		err := fmt.Errorf("%w: '%s'", models.ErrInvalidFeedbackLabel, label)
		c.reject(recordID, label, "Error submitting feedback: "+err.Error(), err)
		return err
	}

	c.mu.Lock()
	c.inFlight++
	c.state = FeedbackState{
		Pending:  true,
		RecordID: recordID,
		Label:    label,
		Message:  fmt.Sprintf("Submitting feedback for story %s...", recordID),
	}
	c.mu.Unlock()
	c.notify()

	log := c.logger.With(zap.String("user_id", owner), zap.String("record_id", recordID), zap.String("label", string(label)))
	err := c.store.UpdateFeedback(ctx, models.CollectionPath(c.subjects.ScopeID(), owner), recordID, label)

	c.mu.Lock()
	c.inFlight--
	c.state.Pending = c.inFlight > 0
	c.state.RecordID = recordID
	c.state.Label = label
	if err != nil {
		c.state.Message = "Error submitting feedback: " + err.Error()
		c.state.Err = err
	} else {
		c.state.Message = fmt.Sprintf("Feedback '%s' submitted!", label)
		c.state.Err = nil
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, models.ErrRecordNotFound) {
			outcome = OutcomeNotFound
		}
		c.metrics.feedbackFinished(string(label), outcome)
		log.Error("Failed to submit feedback", zap.Error(err))
		return err
	}
	c.metrics.feedbackFinished(string(label), OutcomeSuccess)
	log.Info("Feedback submitted")
	return nil
}

// State возвращает снимок состояния.
func (c *FeedbackController) State() FeedbackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange регистрирует обработчик изменений состояния.
func (c *FeedbackController) OnChange(fn func(FeedbackState)) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *FeedbackController) reject(recordID string, label models.FeedbackLabel, msg string, err error) {
	c.mu.Lock()
	c.state = FeedbackState{
		Pending:  c.inFlight > 0,
		RecordID: recordID,
		Label:    label,
		Message:  msg,
		Err:      err,
	}
	c.mu.Unlock()
	c.notify()
	c.metrics.feedbackFinished(string(label), OutcomeRejected)
}

func (c *FeedbackController) notify() {
	state := c.State()

	c.listenersMu.Lock()
	fns := make([]func(FeedbackState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
