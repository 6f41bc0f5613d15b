package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/sir_venger/file_transfer/internal/models"
)

// Reclaim освобождает ресурсы выселяемой сессии. Вызывается под блокировкой записи,
// поэтому новый запрос к тому же идентификатору дождётся окончания очистки.
type Reclaim func(s models.Session) error

// Evict убирает сессию, если в работе нет запросов, она не собирается и allow не против.
func (r *Registry) Evict(id string, allow func(s models.Session) error, reclaim Reclaim) (models.Session, error) {
	e := r.lock(id)
	if e == nil {
		return models.Session{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	defer e.mu.Unlock()

	if e.inflight > 0 || e.session.Status == models.StatusCompleting {
		return models.Session{}, fmt.Errorf("%w: %s has requests in flight", models.ErrSessionBusy, id)
	}
	if allow != nil {
		if err := allow(e.session.Clone()); err != nil {
			return models.Session{}, err
		}
	}

	return r.evictLocked(id, e, reclaim)
}

// Sweep выселяет сессии, простаивающие дольше ttl. Сессии с запросами в работе
// и сессии в completing не трогаются.
func (r *Registry) Sweep(ttl time.Duration, reclaim Reclaim) ([]models.Session, error) {
	now := r.now()

	var (
		evicted []models.Session
		errs    []error
	)
	for _, e := range r.snapshot() {
		e.mu.Lock()
		s := &e.session
		if e.removed || e.inflight > 0 || s.Status == models.StatusCompleting || now.Sub(s.LastActivity) < ttl {
			e.mu.Unlock()
			continue
		}

		out, err := r.evictLocked(s.Identifier, e, reclaim)
		e.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		evicted = append(evicted, out)
	}

	return evicted, errors.Join(errs...)
}

// evictLocked вызывается под e.mu.
func (r *Registry) evictLocked(id string, e *entry, reclaim Reclaim) (models.Session, error) {
	if reclaim != nil {
		if err := reclaim(e.session.Clone()); err != nil {
			return models.Session{}, fmt.Errorf("reclaim %s: %w", id, err)
		}
	}
	e.removed = true
	r.drop(id, e)

	return e.session.Clone(), nil
}
