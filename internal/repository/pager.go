package repository

import (
	"context"
	"fmt"

	"flarebin/internal/domain"
)

// Pager лениво обходит всё хранилище метаданных постранично.
// После Reset обход начинается заново с первой страницы.
type Pager struct {
	store  MetadataStore
	limit  int
	cursor string
	done   bool
}

func NewPager(store MetadataStore, limit int) *Pager {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return &Pager{store: store, limit: limit}
}

// HasNext сообщает, остались ли непрочитанные страницы
func (p *Pager) HasNext() bool {
	return !p.done
}

// Next читает следующую страницу. После страницы с Complete=true HasNext возвращает false.
func (p *Pager) Next(ctx context.Context) ([]domain.FileEntry, error) {
	if p.done {
		return nil, nil
	}

	page, err := p.store.List(ctx, p.cursor, p.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata page (cursor %q): %w", p.cursor, err)
	}

	p.cursor = page.NextCursor
	if page.Complete || page.NextCursor == "" {
		p.done = true
	}
	return page.Entries, nil
}

func (p *Pager) Reset() {
	p.cursor = ""
	p.done = false
}

// ForEach обходит все записи; ошибка из fn прерывает обход
func ForEach(ctx context.Context, store MetadataStore, limit int, fn func(domain.FileEntry) error) error {
	pager := NewPager(store, limit)
	for pager.HasNext() {
		entries, err := pager.Next(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := fn(entry); err != nil {
				return err
			}
		}
	}
	return nil
}
