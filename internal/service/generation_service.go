package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"go.uber.org/zap"
)

// Сообщения пользователю
const (
	msgEmptyKeywords    = "Please enter some keywords for your story."
	msgNotAuthenticated = "User not authenticated."
	msgGenerating       = "Generating your story..."
	msgGenerated        = "Story generated! Please provide feedback."
)

// SubjectSource отдаёт текущую личность. *identity.Session удовлетворяет интерфейсу.
type SubjectSource interface {
	Subject() (string, bool)
	ScopeID() string
}

// GenerationState - наблюдаемое состояние контроллера генерации.
type GenerationState struct {
	Status       models.GenerationStatus
	Keywords     string // поле ввода: очищается после успешного сохранения
	Narrative    string
	LastRecordID string // цель для отзыва; пусто, пока запись не сохранена
	Message      string
	Err          error
}

// GenerationController ведёт жизненный цикл одного запроса генерации истории.
type GenerationController struct {
	subjects SubjectSource
	client   interfaces.GenerationClient
	store    interfaces.RecordStore
	timeout  time.Duration
	metrics  *Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	state    GenerationState
	inFlight bool

	listenersMu sync.Mutex
	listeners   map[int]func(GenerationState)
	nextID      int
}

// NewGenerationController создает контроллер. timeout ограничивает удалённый вызов и сохранение (0 = без ограничения).
func NewGenerationController(
	subjects SubjectSource,
	client interfaces.GenerationClient,
	store interfaces.RecordStore,
	timeout time.Duration,
	metrics *Metrics,
	logger *zap.Logger,
) *GenerationController {
	return &GenerationController{
		subjects:  subjects,
		client:    client,
		store:     store,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger.Named("GenerationController"),
		state:     GenerationState{Status: models.GenerationIdle},
		listeners: make(map[int]func(GenerationState)),
	}
}

// SetKeywords обновляет поле ввода.
func (c *GenerationController) SetKeywords(keywords string) {
	c.update(func(s *GenerationState) { s.Keywords = keywords })
}

// State возвращает снимок состояния.
func (c *GenerationController) State() GenerationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generate генерирует историю по ключевым словам и сохраняет её.
// Предусловия проверяются по порядку: ключевые слова, личность, отсутствие запроса в полёте.
// Удалённый вызов и сохранение не отменяются контекстом вызывающего; их ограничивает только timeout.
func (c *GenerationController) Generate(ctx context.Context, keywords string) error {
	trimmed := strings.TrimSpace(keywords)
	if trimmed == "" {
		c.update(func(s *GenerationState) {
			s.Keywords = keywords
			s.Message = msgEmptyKeywords
			s.Err = models.ErrEmptyKeywords
		})
		c.metrics.generationFinished(OutcomeRejected)
		return models.ErrEmptyKeywords
	}

	owner, ok := c.subjects.Subject()
	if !ok {
		c.update(func(s *GenerationState) {
			s.Keywords = keywords
			s.Message = msgNotAuthenticated
			s.Err = models.ErrNotAuthenticated
		})
		c.metrics.generationFinished(OutcomeRejected)
		return models.ErrNotAuthenticated
	}

	// Вход в loading и проверка "уже в полёте" атомарны
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.logger.Warn("Generation already in flight, rejecting", zap.String("user_id", owner))
		c.metrics.generationFinished(OutcomeRejected)
		return models.ErrGenerationInFlight
	}
	c.inFlight = true
	c.state = GenerationState{
		Status:   models.GenerationLoading,
		Keywords: keywords,
		Message:  msgGenerating,
	}
	c.mu.Unlock()
	c.notify()

	finalStatus := models.GenerationError
	defer func() {
		// loading снимается ровно один раз на любом пути
		c.mu.Lock()
		c.inFlight = false
		c.state.Status = finalStatus
		c.mu.Unlock()
		c.notify()
	}()

	log := c.logger.With(zap.String("user_id", owner))
	req := interfaces.GenerationRequest{Keywords: trimmed, Owner: owner, ScopeID: c.subjects.ScopeID()}

	callCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	narrative, err := c.client.Generate(callCtx, req)
	c.metrics.observeGenerationCall(time.Since(startTime))

	if c.stale(owner) {
		log.Info("Identity changed while generation was in flight, discarding result")
		finalStatus = c.discardStale()
		return models.ErrStaleResponse
	}

	if err != nil {
		if !errors.Is(err, models.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
		}
		log.Error("Story generation failed", zap.Error(err))
		c.setLocked(func(s *GenerationState) {
			s.Narrative = models.FailedNarrative
			s.Message = "Error: " + errorDetail(err)
			s.Err = err
		})
		c.metrics.generationFinished(OutcomeRemoteError)
		return err
	}

	// История показывается сразу, независимо от сохранения
	c.update(func(s *GenerationState) {
		s.Narrative = narrative
		s.Message = msgGenerated
	})

	// Сохранение, как и генерация, не зависит от отмены вызывающего
	saveCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(saveCtx, c.timeout)
		defer cancel()
	}
	recordID, err := c.store.Create(saveCtx, models.CollectionPath(c.subjects.ScopeID(), owner), models.NewStoryRecord{
		Owner:     owner,
		Keywords:  trimmed,
		Narrative: narrative,
	})
	if c.stale(owner) {
		// Запись осталась у прежнего владельца, новой личности она не показывается
		log.Info("Identity changed while story was being saved, discarding result", zap.String("record_id", recordID))
		finalStatus = c.discardStale()
		return models.ErrStaleResponse
	}
	if err != nil {
		if !errors.Is(err, models.ErrPersistenceFailed) {
			err = fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
		}
		log.Error("Failed to save generated story", zap.Error(err))
		c.setLocked(func(s *GenerationState) {
			s.Message = "Story generated but could not be saved: " + errorDetail(err)
			s.Err = err
		})
		c.metrics.generationFinished(OutcomePersistenceError)
		return err
	}

	c.setLocked(func(s *GenerationState) {
		s.LastRecordID = recordID
		s.Keywords = ""
		s.Err = nil
	})
	finalStatus = models.GenerationSuccess
	c.metrics.generationFinished(OutcomeSuccess)
	log.Info("Story generated and saved", zap.String("record_id", recordID))
	return nil
}

// OnChange регистрирует обработчик изменений состояния.
func (c *GenerationController) OnChange(fn func(GenerationState)) (unsubscribe func()) {
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

// Reset возвращает контроллер в исходное состояние (после выхода пользователя).
// Запрос в полёте не прерывается: его результат отбросит проверка личности.
func (c *GenerationController) Reset() {
	c.update(func(s *GenerationState) {
		status := models.GenerationIdle
		if c.inFlight {
			status = models.GenerationLoading
		}
		*s = GenerationState{Status: status}
	})
}

// discardStale отбрасывает результат запроса прежней личности и возвращает итоговый статус.
func (c *GenerationController) discardStale() models.GenerationStatus {
	c.setLocked(func(s *GenerationState) {
		s.Narrative = ""
		s.LastRecordID = ""
		s.Message = ""
		s.Err = models.ErrStaleResponse
	})
	c.metrics.generationFinished(OutcomeStale)
	return models.GenerationIdle
}

func (c *GenerationController) stale(owner string) bool {
	current, ok := c.subjects.Subject()
	return !ok || current != owner
}

// setLocked меняет состояние без уведомления: его отправит defer в Generate.
func (c *GenerationController) setLocked(fn func(*GenerationState)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
}

func (c *GenerationController) update(fn func(*GenerationState)) {
	c.setLocked(fn)
	c.notify()
}

func (c *GenerationController) notify() {
	state := c.State()

	c.listenersMu.Lock()
	fns := make([]func(GenerationState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// errorDetail убирает префиксы-сентинелы, оставляя суть ошибки для пользователя.
func errorDetail(err error) string {
	var remote *models.RemoteError
	if errors.As(err, &remote) {
		return remote.Error()
	}
	msg := err.Error()
	for _, sentinel := range []error{models.ErrGenerationFailed, models.ErrPersistenceFailed} {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	return msg
}
