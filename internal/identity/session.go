// Package identity держит личность пользователя на время сессии клиента.
package identity

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

// Config - значения, которые раньше приходили из глобального окружения.
type Config struct {
	Token   string // заранее выданный custom token, необязателен
	ScopeID string // идентификатор развёртывания
}

// ChangeFunc вызывается при каждом переходе signed-in/signed-out.
type ChangeFunc func(subject string, ok bool)

// Session устанавливает и хранит Subject Identity.
type Session struct {
	provider interfaces.IdentityProvider
	cfg      Config
	logger   *zap.Logger

	mu       sync.RWMutex
	identity *models.Identity
	ready    chan struct{}
	started  bool
	message  string

	listenersMu sync.Mutex
	listeners   map[int]ChangeFunc
	nextID      int

	unsubscribeProvider func()
}

// NewSession создает сессию. Вход не выполняется до вызова Establish.
func NewSession(provider interfaces.IdentityProvider, cfg Config, logger *zap.Logger) *Session {
	s := &Session{
		provider:  provider,
		cfg:       cfg,
		logger:    logger.Named("identity"),
		ready:     make(chan struct{}),
		listeners: make(map[int]ChangeFunc),
	}
	s.unsubscribeProvider = provider.OnChange(s.handleProviderChange)
	return s
}

// Establish выполняет вход: resume -> обмен токена -> анонимный вход.
// Флаг готовности выставляется на любом исходе. Если ни один способ не сработал,
// возвращается ошибка, оборачивающая models.ErrNotAuthenticated.
func (s *Session) Establish(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.started {
		// Повторный вызов ждёт результата первой попытки
		ready := s.ready
		s.mu.Unlock()
		<-ready
		if identity := s.current(); identity != nil {
			return identity.UID, nil
		}
		return "", models.ErrNotAuthenticated
	}
	s.started = true
	s.mu.Unlock()

	identity, err := s.signIn(ctx)
	if err != nil {
		s.logger.Error("Sign-in failed", zap.Error(err))
		s.setMessage(fmt.Sprintf("Sign-in error: %v", err))
		// Готовность выставляется и при неудаче, чтобы разблокировать UI
		s.markReady()
		return "", err
	}

	// Сначала готовность, потом уведомление: подписчики видят уже готовую сессию
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	s.markReady()
	s.notify(identity.UID, true)

	s.logger.Info("Signed in", zap.String("uid", identity.UID), zap.String("method", string(identity.Method)))
	return identity.UID, nil
}

func (s *Session) signIn(ctx context.Context) (*models.Identity, error) {
	identity, err := s.provider.Resume(ctx)
	if err != nil {
		// Неудачный resume не фатален, переходим к следующим способам
		s.logger.Warn("Failed to resume identity", zap.Error(err))
	}
	if identity != nil && identity.UID != "" {
		identity.Method = models.SignInResumed
		s.setMessage("Signed in as: " + identity.UID)
		return identity, nil
	}

	var causes []error
	if token := strings.TrimSpace(s.cfg.Token); token != "" {
		identity, err = s.provider.ExchangeToken(ctx, token)
		if err == nil && identity != nil && identity.UID != "" {
			identity.Method = models.SignInCustomToken
			s.setMessage("Signed in with custom token.")
			return identity, nil
		}
		s.logger.Warn("Custom token exchange failed, falling back to anonymous sign-in", zap.Error(err))
		causes = append(causes, fmt.Errorf("token exchange: %w", emptyIdentity(err)))
	}

	identity, err = s.provider.SignInAnonymously(ctx)
	if err == nil && identity != nil && identity.UID != "" {
		identity.Method = models.SignInAnonymous
		s.setMessage("Signed in anonymously.")
		return identity, nil
	}
	causes = append(causes, fmt.Errorf("anonymous sign-in: %w", emptyIdentity(err)))

	return nil, fmt.Errorf("%w: %w", models.ErrNotAuthenticated, errors.Join(causes...))
}

func emptyIdentity(err error) error {
	if err != nil {
		return err
	}
	return errors.New("provider returned no identity")
}

// SignOut завершает сессию у провайдера и сбрасывает личность.
// Подписчики уведомляются до возврата.
func (s *Session) SignOut(ctx context.Context) error {
	err := s.provider.SignOut(ctx)
	if err != nil {
		s.logger.Warn("Provider sign-out failed", zap.Error(err))
	}
	s.setMessage("Signed out.")
	s.setIdentity(nil)

	// После выхода сессию можно установить заново
	s.mu.Lock()
	s.started = false
	s.ready = make(chan struct{})
	s.mu.Unlock()
	return err
}

// Ready закрывается, когда попытка входа завершилась (успешно или нет).
func (s *Session) Ready() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// IsReady неблокирующая проверка готовности.
func (s *Session) IsReady() bool {
	select {
	case <-s.Ready():
		return true
	default:
		return false
	}
}

// Subject возвращает текущий идентификатор пользователя.
func (s *Session) Subject() (string, bool) {
	identity := s.current()
	if identity == nil {
		return "", false
	}
	return identity.UID, true
}

// Identity возвращает копию текущей личности или nil.
func (s *Session) Identity() *models.Identity {
	identity := s.current()
	if identity == nil {
		return nil
	}
	cp := *identity
	return &cp
}

// ScopeID возвращает идентификатор развёртывания.
func (s *Session) ScopeID() string {
	return s.cfg.ScopeID
}

// Message последнее сообщение о статусе входа.
func (s *Session) Message() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message
}

// OnChange регистрирует обработчик изменений личности.
func (s *Session) OnChange(fn ChangeFunc) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Close отписывается от провайдера.
func (s *Session) Close() {
	if s.unsubscribeProvider != nil {
		s.unsubscribeProvider()
	}
}

func (s *Session) current() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *Session) setMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

// setIdentity меняет личность и уведомляет подписчиков, если UID изменился.
func (s *Session) setIdentity(identity *models.Identity) {
	s.mu.Lock()
	prev := ""
	if s.identity != nil {
		prev = s.identity.UID
	}
	s.identity = identity
	next := ""
	if identity != nil {
		next = identity.UID
	}
	s.mu.Unlock()

	if prev == next {
		return
	}
	s.notify(next, next != "")
}

func (s *Session) notify(subject string, ok bool) {
	s.listenersMu.Lock()
	fns := make([]ChangeFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(subject, ok)
	}
}

// handleProviderChange отражает выход, инициированный провайдером (например, отзыв токена).
func (s *Session) handleProviderChange(identity *models.Identity) {
	if identity != nil {
		// Вход обрабатывается Establish
		return
	}
	if _, ok := s.Subject(); !ok {
		return
	}
	s.logger.Info("Provider reported sign-out")
	s.setIdentity(nil)
}
