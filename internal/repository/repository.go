package repository

import (
	"context"
	"errors"

	"flarebin/internal/domain"
)

// ErrRecordNotFound возвращается, если записи с таким ID нет
var ErrRecordNotFound = errors.New("record not found")

// MetadataStore представляет key/value хранилище записей о файлах.
// Каждая операция атомарна в пределах одного ключа, транзакций между ключами нет.
type MetadataStore interface {
	// Get возвращает ErrRecordNotFound, если записи нет
	Get(ctx context.Context, id string) (*domain.FileRecord, error)
	// Put создаёт или перезаписывает запись вместе с её сводкой
	Put(ctx context.Context, id string, record *domain.FileRecord, summary domain.FileSummary) error
	// Delete возвращает ErrRecordNotFound, если записи уже нет
	Delete(ctx context.Context, id string) error
	// List возвращает страницу начиная с cursor; пустой cursor означает первую страницу
	List(ctx context.Context, cursor string, limit int) (*domain.Page, error)
}

const DefaultPageSize = 1000
