// Package feed поддерживает живое отсортированное представление историй пользователя.
package feed

import (
	"context"
	"fmt"
	"sync"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"go.uber.org/zap"
)

// Update - событие изменения представления.
type Update struct {
	Owner   string
	Records []models.StoryRecord
	Err     error // ошибка подписки; Records при этом содержит последнее удачное представление
}

// Observer получает обновления представления.
type Observer interface {
	SnapshotReceived(owner string, size int)
	SnapshotFailed(owner string, err error)
}

type nopObserver struct{}

func (nopObserver) SnapshotReceived(string, int)  {}
func (nopObserver) SnapshotFailed(string, error) {}

// subscription - одна живая подписка на коллекцию владельца.
type subscription struct {
	owner  string
	epoch  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Feed держит не более одной подписки и материализованное представление коллекции.
type Feed struct {
	store    interfaces.RecordStore
	scopeID  string
	logger   *zap.Logger
	observer Observer

	// switchMu сериализует SetOwner: закрытие старой подписки строго до открытия новой
	switchMu sync.Mutex

	mu      sync.RWMutex
	sub     *subscription
	epoch   uint64
	owner   string
	records []models.StoryRecord
	err     error
	loaded  bool // получен хотя бы один снимок текущего владельца

	listenersMu sync.Mutex
	listeners   map[int]func(Update)
	nextID      int
}

// New создает Feed поверх хранилища.
func New(store interfaces.RecordStore, scopeID string, logger *zap.Logger) *Feed {
	return &Feed{
		store:     store,
		scopeID:   scopeID,
		logger:    logger.Named("feed"),
		observer:  nopObserver{},
		listeners: make(map[int]func(Update)),
	}
}

// WithObserver подключает сбор метрик по снимкам.
func (f *Feed) WithObserver(o Observer) *Feed {
	if o != nil {
		f.observer = o
	}
	return f
}

// SetOwner переключает подписку на коллекцию owner.
// Пустой owner означает отсутствие личности: подписка закрывается, новая не открывается.
// Повторный вызов с тем же owner ничего не делает, пока подписка жива; после её
// завершения хранилищем подписка открывается заново, а последнее представление сохраняется.
func (f *Feed) SetOwner(ctx context.Context, owner string) error {
	f.switchMu.Lock()
	defer f.switchMu.Unlock()

	f.mu.RLock()
	current := f.sub
	f.mu.RUnlock()
	if current != nil && current.owner == owner {
		return nil
	}
	if current == nil && owner == "" {
		return nil
	}

	f.teardown()

	f.mu.Lock()
	changed := f.owner != owner
	f.owner = owner
	if changed {
		// Истории предыдущего владельца не должны попасть в новое представление
		f.records = nil
		f.err = nil
		f.loaded = false
	}
	f.mu.Unlock()
	if changed {
		f.publish()
	}

	if owner == "" {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	path := models.CollectionPath(f.scopeID, owner)
	ch, err := f.store.Watch(subCtx, path, owner)
	if err != nil {
		cancel()
		err = fmt.Errorf("%w: %w", models.ErrSubscriptionFailed, err)
		f.logger.Error("Failed to open stories subscription", zap.String("owner", owner), zap.Error(err))
		f.observer.SnapshotFailed(owner, err)
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		f.publish()
		return err
	}

	f.mu.Lock()
	f.epoch++
	sub := &subscription{owner: owner, epoch: f.epoch, cancel: cancel, done: make(chan struct{})}
	f.sub = sub
	f.mu.Unlock()

	f.logger.Debug("Stories subscription opened", zap.String("owner", owner), zap.String("path", path))
	go f.consume(sub, ch)
	return nil
}

// teardown закрывает текущую подписку и ждёт завершения её горутины.
func (f *Feed) teardown() {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()
	if sub == nil {
		return
	}
	sub.cancel()
	<-sub.done
	f.logger.Debug("Stories subscription closed", zap.String("owner", sub.owner))
}

func (f *Feed) consume(sub *subscription, ch <-chan models.Snapshot) {
	defer close(sub.done)
	for snap := range ch {
		f.apply(sub, snap)
	}

	// Хранилище закрыло канал само (например, после ошибки прослушивания).
	// Мёртвая подписка снимается, чтобы следующий SetOwner с тем же владельцем открыл её заново.
	f.mu.Lock()
	ended := f.sub != nil && f.sub.epoch == sub.epoch
	if ended {
		f.sub = nil
	}
	f.mu.Unlock()
	if ended {
		sub.cancel()
		f.logger.Warn("Stories subscription ended by store", zap.String("owner", sub.owner))
	}
}

// apply заменяет представление целиком. Снимки закрытой подписки отбрасываются.
func (f *Feed) apply(sub *subscription, snap models.Snapshot) {
	f.mu.Lock()
	if f.sub == nil || f.sub.epoch != sub.epoch {
		f.mu.Unlock()
		return
	}

	if snap.Err != nil {
		// Последнее удачное представление сохраняется
		f.err = fmt.Errorf("%w: %w", models.ErrSubscriptionFailed, snap.Err)
		err := f.err
		f.mu.Unlock()
		f.logger.Warn("Stories subscription error", zap.String("owner", sub.owner), zap.Error(snap.Err))
		f.observer.SnapshotFailed(sub.owner, err)
		f.publish()
		return
	}

	records := make([]models.StoryRecord, 0, len(snap.Records))
	for _, r := range snap.Records {
		if r.Owner != sub.owner {
			continue
		}
		records = append(records, r)
	}
	models.SortRecords(records)

	f.records = records
	f.err = nil
	f.loaded = true
	f.mu.Unlock()

	f.observer.SnapshotReceived(sub.owner, len(records))
	f.publish()
}

// View возвращает копию текущего представления.
func (f *Feed) View() []models.StoryRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return cloneRecords(f.records)
}

// Err возвращает последнюю ошибку подписки (nil после удачного снимка).
func (f *Feed) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// Owner возвращает владельца текущего представления.
func (f *Feed) Owner() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.owner
}

// Loaded сообщает, что представление уже отражает хотя бы один снимок хранилища.
func (f *Feed) Loaded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loaded
}

// Active сообщает, открыта ли подписка.
func (f *Feed) Active() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sub != nil
}

// OnUpdate регистрирует обработчик обновлений представления.
func (f *Feed) OnUpdate(fn func(Update)) (unsubscribe func()) {
	f.listenersMu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.listenersMu.Unlock()

	return func() {
		f.listenersMu.Lock()
		delete(f.listeners, id)
		f.listenersMu.Unlock()
	}
}

// Close закрывает подписку.
func (f *Feed) Close() {
	f.switchMu.Lock()
	defer f.switchMu.Unlock()
	f.teardown()
}

func (f *Feed) publish() {
	f.mu.RLock()
	u := Update{Owner: f.owner, Records: cloneRecords(f.records), Err: f.err}
	f.mu.RUnlock()

	f.listenersMu.Lock()
	fns := make([]func(Update), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.listenersMu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

func cloneRecords(in []models.StoryRecord) []models.StoryRecord {
	if in == nil {
		return nil
	}
	out := make([]models.StoryRecord, len(in))
	copy(out, in)
	return out
}
