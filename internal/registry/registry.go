// Package registry держит в памяти состояние сессий загрузки.
//
// Общая блокировка защищает только карту идентификаторов; всё состояние сессии меняется под
// мьютексом конкретной записи, поэтому разные загрузки не сериализуются друг с другом.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sir_venger/file_transfer/internal/models"
)

// Transition описывает результат попытки перевести сессию в completing.
type Transition int

const (
	// получены не все чанки
	NotReady Transition = iota
	// вызывающий получил эксклюзивное право собрать файл
	Won
	// сборку уже ведёт другой вызов
	InProgress
	// файл уже опубликован
	Done
	// сессия в состоянии failed
	Broken
)

type entry struct {
	mu       sync.Mutex
	session  models.Session
	inflight int
	removed  bool
	// saved: meta.json сессии записан на диск
	saved bool
}

// Registry — реестр сессий загрузки.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New создаёт пустой реестр. now == nil означает time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries: map[string]*entry{},
		now:     now,
	}
}

// GetOrCreate возвращает сессию идентификатора, создавая её по первому чанку.
// Каждый успешный вызов регистрирует запрос в работе и должен завершаться Release.
func (r *Registry) GetOrCreate(meta models.UploadMeta) (models.Session, bool, error) {
	for {
		r.mu.Lock()
		e, ok := r.entries[meta.Identifier]
		if !ok {
			s := models.NewSession(meta, r.now())
			r.entries[meta.Identifier] = &entry{session: s, inflight: 1}
			r.mu.Unlock()
			return s.Clone(), true, nil
		}
		r.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// запись выселена между поиском и блокировкой, ищем заново
			e.mu.Unlock()
			continue
		}
		if err := e.session.Conflict(meta); err != nil {
			e.mu.Unlock()
			return models.Session{}, false, err
		}
		e.inflight++
		e.session.LastActivity = r.now()
		s := e.session.Clone()
		e.mu.Unlock()

		return s, false, nil
	}
}

// Release снимает отметку о запросе в работе.
func (r *Registry) Release(id string) {
	e := r.lock(id)
	if e == nil {
		return
	}
	defer e.mu.Unlock()

	if e.inflight > 0 {
		e.inflight--
	}
	e.session.LastActivity = r.now()
}

// Get возвращает копию сессии.
func (r *Registry) Get(id string) (models.Session, error) {
	e := r.lock(id)
	if e == nil {
		return models.Session{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	defer e.mu.Unlock()

	return e.session.Clone(), nil
}

// MarkReceived добавляет номер чанка в множество полученных. Повтор ничего не меняет.
// Для сессий вне collecting состояние не меняется.
func (r *Registry) MarkReceived(id string, n int) (models.Session, error) {
	e := r.lock(id)
	if e == nil {
		return models.Session{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	defer e.mu.Unlock()

	s := &e.session
	if n < 1 || n > s.TotalChunks {
		return models.Session{}, fmt.Errorf("%w: chunkNumber %d out of range 1..%d", models.ErrValidation, n, s.TotalChunks)
	}

	switch s.Status {
	case models.StatusFailed:
		return models.Session{}, fmt.Errorf("%w: %s", models.ErrSessionFailed, id)
	case models.StatusCollecting:
		s.Received[n] = struct{}{}
		s.LastActivity = r.now()
	}

	return s.Clone(), nil
}

// Remove безусловно убирает сессию из реестра; запросы в работе получат ErrNotFound.
func (r *Registry) Remove(id string) {
	e := r.lock(id)
	if e == nil {
		return
	}
	e.removed = true
	r.drop(id, e)
	e.mu.Unlock()
}

// Unsaved сообщает, что манифест сессии ещё не записан.
func (r *Registry) Unsaved(id string) bool {
	e := r.lock(id)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	return !e.saved
}

// MarkSaved отмечает, что манифест сессии записан.
func (r *Registry) MarkSaved(id string) {
	e := r.lock(id)
	if e == nil {
		return
	}
	e.saved = true
	e.mu.Unlock()
}

// DropUnsaved убирает сессию без манифеста, если её держит только вызывающий.
// Пока в работе другие запросы, сессия остаётся, и манифест запишет следующий из них.
func (r *Registry) DropUnsaved(id string) bool {
	e := r.lock(id)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()

	if e.saved || e.inflight > 1 {
		return false
	}
	e.removed = true
	r.drop(id, e)
	return true
}

// BeginCompleting атомарно переводит полную сессию collecting -> completing.
// Won получает ровно один вызывающий.
func (r *Registry) BeginCompleting(id string) (models.Session, Transition, error) {
	e := r.lock(id)
	if e == nil {
		return models.Session{}, NotReady, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	defer e.mu.Unlock()

	s := &e.session
	switch s.Status {
	case models.StatusPublished:
		return s.Clone(), Done, nil
	case models.StatusCompleting:
		return s.Clone(), InProgress, nil
	case models.StatusFailed:
		return s.Clone(), Broken, nil
	}
	if !s.IsComplete() {
		return s.Clone(), NotReady, nil
	}

	s.Status = models.StatusCompleting
	s.LastActivity = r.now()

	return s.Clone(), Won, nil
}

// FinishPublished фиксирует успешную публикацию.
func (r *Registry) FinishPublished(id, path, publicName, checksum string) (models.Session, error) {
	return r.finish(id, func(s *models.Session) {
		s.Status = models.StatusPublished
		s.Path = path
		s.PublicName = publicName
		s.Checksum = checksum
		s.FailReason = ""
	})
}

// FinishFailed переводит сессию в failed.
func (r *Registry) FinishFailed(id, reason string) (models.Session, error) {
	return r.finish(id, func(s *models.Session) {
		s.Status = models.StatusFailed
		s.FailReason = reason
	})
}

// RevertCollecting возвращает сессию в collecting после ошибки хранилища,
// выбрасывая из полученных номера, которые не удалось прочитать.
func (r *Registry) RevertCollecting(id string, drop ...int) (models.Session, error) {
	return r.finish(id, func(s *models.Session) {
		s.Status = models.StatusCollecting
		for _, n := range drop {
			delete(s.Received, n)
		}
	})
}

func (r *Registry) finish(id string, apply func(s *models.Session)) (models.Session, error) {
	e := r.lock(id)
	if e == nil {
		return models.Session{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	defer e.mu.Unlock()

	if e.session.Status != models.StatusCompleting {
		return models.Session{}, fmt.Errorf("%w: %s is %s, not completing", models.ErrSessionBusy, id, e.session.Status)
	}
	apply(&e.session)
	e.session.LastActivity = r.now()

	return e.session.Clone(), nil
}

// Restore кладёт в реестр сессии, восстановленные с диска. Существующие не трогает.
func (r *Registry) Restore(sessions ...models.Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, s := range sessions {
		if _, ok := r.entries[s.Identifier]; ok {
			continue
		}
		r.entries[s.Identifier] = &entry{session: s.Clone(), saved: true}
		added++
	}
	return added
}

// Has сообщает, есть ли живая сессия идентификатора.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// List возвращает снимок всех сессий, отсортированный по идентификатору.
func (r *Registry) List() []models.Session {
	out := make([]models.Session, 0)
	for _, e := range r.snapshot() {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })

	return out
}

// lock находит живую запись и возвращает её заблокированной, либо nil.
func (r *Registry) lock(id string) *entry {
	for {
		r.mu.Lock()
		e, ok := r.entries[id]
		r.mu.Unlock()
		if !ok {
			return nil
		}

		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// drop убирает запись из карты; вызывается под e.mu.
func (r *Registry) drop(id string, e *entry) {
	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

func (r *Registry) snapshot() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
