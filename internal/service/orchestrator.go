package service

import (
	"context"
	"strings"
	"sync"

	"storyteller/internal/feed"
	"storyteller/internal/identity"
	"storyteller/internal/models"

	"go.uber.org/zap"
)

// Orchestrator связывает сессию, ленту и контроллеры и выводит из их состояний
// единое models.ViewState. Сам ввод-вывод не выполняет.
type Orchestrator struct {
	session    *identity.Session
	feed       *feed.Feed
	generation *GenerationController
	feedback   *FeedbackController
	logger     *zap.Logger

	// ctx живёт до Close; от него открываются подписки ленты
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	message     string
	lastMsg     map[string]string // последнее сообщение каждого источника
	lastFeedErr error
	closed      bool

	subsMu sync.Mutex
	subs   map[int]chan models.ViewState
	nextID int

	unsubscribe []func()
}

// NewOrchestrator создает оркестратор и подписывается на все компоненты.
func NewOrchestrator(
	session *identity.Session,
	f *feed.Feed,
	generation *GenerationController,
	feedback *FeedbackController,
	logger *zap.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		session:    session,
		feed:       f,
		generation: generation,
		feedback:   feedback,
		logger:     logger.Named("Orchestrator"),
		ctx:        ctx,
		cancel:     cancel,
		lastMsg:    make(map[string]string),
		subs:       make(map[int]chan models.ViewState),
	}

	o.unsubscribe = append(o.unsubscribe,
		session.OnChange(o.handleIdentityChange),
		f.OnUpdate(o.handleFeedUpdate),
		generation.OnChange(func(s GenerationState) {
			o.sourceMessage("generation", s.Message)
			o.publish()
		}),
		feedback.OnChange(func(s FeedbackState) {
			o.sourceMessage("feedback", s.Message)
			o.publish()
		}),
	)
	return o
}

// Start запускает установку личности в фоне. Готовность видна через Ready и View().AuthReady.
// Возвращаемый канал закрывается, когда результат входа применён к ленте и строке статуса.
func (o *Orchestrator) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		if _, err := o.session.Establish(ctx); err != nil {
			o.logger.Error("Identity could not be established", zap.Error(err))
		}
		o.sourceMessage("identity", o.session.Message())
		o.publish()
	}()
	return done
}

// Ready закрывается, когда попытка входа завершилась.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.session.Ready()
}

// Generate делегирует контроллеру генерации.
func (o *Orchestrator) Generate(ctx context.Context, keywords string) error {
	return o.generation.Generate(ctx, keywords)
}

// SetKeywords обновляет поле ввода.
func (o *Orchestrator) SetKeywords(keywords string) {
	o.generation.SetKeywords(keywords)
}

// SubmitFeedback отправляет отзыв. Пустой recordID означает последнюю сгенерированную историю.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, recordID string, label models.FeedbackLabel) error {
	if recordID == "" {
		recordID = o.generation.State().LastRecordID
	}
	return o.feedback.Submit(ctx, recordID, label)
}

// SignOut завершает сессию: подписка ленты закрывается до возврата.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	return o.session.SignOut(ctx)
}

// Identity возвращает копию текущей личности или nil.
func (o *Orchestrator) Identity() *models.Identity {
	return o.session.Identity()
}

// View выводит текущее состояние для слоя представления.
func (o *Orchestrator) View() models.ViewState {
	subject, signedIn := o.session.Subject()
	gen := o.generation.State()
	fb := o.feedback.State()

	v := models.ViewState{
		AuthReady:       o.session.IsReady(),
		SubjectID:       subject,
		Generation:      gen.Status,
		Keywords:        gen.Keywords,
		Narrative:       gen.Narrative,
		LastRecordID:    gen.LastRecordID,
		FeedbackPending: fb.Pending,
	}

	// Пока лента не переключилась на нового владельца, чужие записи не показываются
	if signedIn && o.feed.Owner() == subject {
		v.Feed = o.feed.View()
		v.FeedErr = o.feed.Err()
		v.FeedLoaded = o.feed.Loaded()
	}

	o.mu.Lock()
	v.Message = o.message
	o.mu.Unlock()

	v.CanGenerate = v.AuthReady && signedIn && gen.Status != models.GenerationLoading
	v.CanSubmitFeedback = signedIn && gen.LastRecordID != "" && !fb.Pending
	return v
}

// Subscribe возвращает канал состояний. Доставка неблокирующая: медленный читатель
// получает только последнее состояние.
func (o *Orchestrator) Subscribe() (<-chan models.ViewState, func()) {
	ch := make(chan models.ViewState, 1)
	ch <- o.View()

	o.subsMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	o.subsMu.Unlock()

	return ch, func() {
		o.subsMu.Lock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
		o.subsMu.Unlock()
	}
}

// Close закрывает подписку ленты и каналы подписчиков.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	for _, fn := range o.unsubscribe {
		fn()
	}
	o.cancel()
	o.wg.Wait()
	o.feed.Close()
	o.session.Close()

	o.subsMu.Lock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	o.subsMu.Unlock()
}

// handleIdentityChange переключает ленту на нового владельца. Вызывается без удержания o.mu:
// SetOwner ждёт завершения горутины старой подписки, которая сама публикует состояние.
func (o *Orchestrator) handleIdentityChange(subject string, ok bool) {
	if !ok {
		subject = ""
		o.generation.Reset()
	}
	if err := o.feed.SetOwner(o.ctx, subject); err != nil {
		o.logger.Error("Failed to switch stories feed", zap.String("owner", subject), zap.Error(err))
	}
	o.sourceMessage("identity", o.session.Message())
	o.publish()
}

func (o *Orchestrator) handleFeedUpdate(u feed.Update) {
	o.mu.Lock()
	if u.Err != nil && u.Err != o.lastFeedErr {
		o.message = "Error fetching stories: " + strings.TrimPrefix(u.Err.Error(), models.ErrSubscriptionFailed.Error()+": ")
	}
	o.lastFeedErr = u.Err
	o.mu.Unlock()
	o.publish()
}

// sourceMessage применяет сообщение источника, только если оно изменилось:
// так последнее по времени событие определяет строку статуса.
func (o *Orchestrator) sourceMessage(source, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if msg == "" || o.lastMsg[source] == msg {
		return
	}
	o.lastMsg[source] = msg
	o.message = msg
}

func (o *Orchestrator) publish() {
	v := o.View()

	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		// Старое непрочитанное состояние заменяется новым
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
