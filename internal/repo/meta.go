package meta

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sir_venger/file_transfer/internal/models"
)

// Store — каталог опубликованных файлов.
type Store interface {
	Get(ctx context.Context, identifier string) (models.PublishedFile, error)
	Save(ctx context.Context, file models.PublishedFile) error
	Delete(ctx context.Context, identifier string) error
	List(ctx context.Context) ([]models.PublishedFile, error)
	Close() error
}

// MemoryStore хранит каталог только в оперативной памяти; удобно для тестов.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]models.PublishedFile
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: map[string]models.PublishedFile{}}
}

// Get возвращает запись по идентификатору загрузки или ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, identifier string) (models.PublishedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[identifier]
	if !ok {
		return models.PublishedFile{}, fmt.Errorf("%w: %s", models.ErrNotFound, identifier)
	}
	return f, nil
}

// Save записывает (или обновляет) запись целиком.
func (s *MemoryStore) Save(_ context.Context, f models.PublishedFile) error {
	if f.Identifier == "" {
		return fmt.Errorf("identifier is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.Identifier] = f
	return nil
}

// Delete удаляет запись; отсутствие записи ошибкой не считается.
func (s *MemoryStore) Delete(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, identifier)
	return nil
}

// List возвращает записи, отсортированные по публичному имени.
func (s *MemoryStore) List(_ context.Context) ([]models.PublishedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PublishedFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicName < out[j].PublicName })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
