package repository

import (
	"context"
	"sort"
	"sync"

	"flarebin/internal/domain"
)

type memoryItem struct {
	record  domain.FileRecord
	summary domain.FileSummary
}

// MemoryStore держит метаданные в памяти процесса (разработка и тесты).
// Курсор: последний выданный ID, страницы упорядочены по ID.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	record := item.record
	return &record, nil
}

func (s *MemoryStore) Put(ctx context.Context, id string, record *domain.FileRecord, summary domain.FileSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[id] = memoryItem{record: *record, summary: summary}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, cursor string, limit int) (*domain.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		if cursor == "" || id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	page := &domain.Page{Complete: len(ids) <= limit}
	if !page.Complete {
		ids = ids[:limit]
	}
	for _, id := range ids {
		page.Entries = append(page.Entries, domain.FileEntry{ID: id, Summary: s.items[id].summary})
	}
	if len(ids) > 0 {
		page.NextCursor = ids[len(ids)-1]
	}
	return page, nil
}

// Len возвращает количество записей
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
