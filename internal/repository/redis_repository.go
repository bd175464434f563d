package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"flarebin/internal/domain"
)

const DefaultRedisKeyPrefix = "flarebin:file:"

// Поля хеша. Сводка лежит отдельными полями, чтобы листинг
// читал её через HMGET без разбора полной записи.
const (
	fieldRecord   = "record"
	fieldExpireAt = "expire_at"
	fieldToken    = "token"
	fieldSize     = "size"
	fieldFilename = "filename"
)

// RedisStore хранит метаданные в Redis, по хешу на файл.
// Курсор листинга: курсор SCAN; "0" в ответе означает конец обхода.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.FileRecord, error) {
	data, err := s.client.HGet(ctx, s.key(id), fieldRecord).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", id, err)
	}

	var record domain.FileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode file %s: %w", id, err)
	}
	return &record, nil
}

func (s *RedisStore) Put(ctx context.Context, id string, record *domain.FileRecord, summary domain.FileSummary) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode file %s: %w", id, err)
	}

	key := s.key(id)
	// DEL и HSET в одной транзакции, чтобы от прошлой записи не осталось полей
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			fieldRecord:   data,
			fieldExpireAt: summary.ExpireAt,
			fieldToken:    summary.AccessToken,
			fieldSize:     summary.Size,
			fieldFilename: summary.Filename,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put file %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}
	if deleted == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List делает один шаг SCAN. Redis может вернуть ключ повторно
// или меньше ключей, чем limit; потребители должны это допускать.
func (s *RedisStore) List(ctx context.Context, cursor string, limit int) (*domain.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var scanCursor uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		scanCursor = parsed
	}

	keys, next, err := s.client.Scan(ctx, scanCursor, s.prefix+"*", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan files after %q: %w", cursor, err)
	}

	page := &domain.Page{Complete: next == 0}
	if !page.Complete {
		page.NextCursor = strconv.FormatUint(next, 10)
	}
	if len(keys) == 0 {
		return page, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HMGet(ctx, key, fieldExpireAt, fieldToken, fieldSize, fieldFilename)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read file summaries: %w", err)
	}

	page.Entries = make([]domain.FileEntry, 0, len(keys))
	for i, key := range keys {
		values, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read summary for %s: %w", key, err)
		}
		summary, ok := decodeSummary(values)
		if !ok {
			// ключ удалён между SCAN и HMGET
			continue
		}
		page.Entries = append(page.Entries, domain.FileEntry{
			ID:      strings.TrimPrefix(key, s.prefix),
			Summary: summary,
		})
	}

	return page, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeSummary(values []interface{}) (domain.FileSummary, bool) {
	if len(values) != 4 || values[0] == nil {
		return domain.FileSummary{}, false
	}

	str := func(v interface{}) string {
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}

	expireAt, _ := strconv.ParseInt(str(values[0]), 10, 64)
	size, _ := strconv.ParseInt(str(values[2]), 10, 64)

	return domain.FileSummary{
		ExpireAt:    expireAt,
		AccessToken: str(values[1]),
		Size:        size,
		Filename:    str(values[3]),
	}, true
}
