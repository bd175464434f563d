package domain

import (
	"io"
	"time"
)

// NeverExpires используется как ExpireAt файлов без срока хранения
const NeverExpires int64 = 0

// FileRecord представляет запись о файле; ключом служит публичный ID
type FileRecord struct {
	ObjectKey   string `json:"uuid" db:"object_key"`
	ExpireAt    int64  `json:"expireAt" db:"expire_at"`
	AccessToken string `json:"token" db:"access_token"`
	Filename    string `json:"filename" db:"filename"`
	ContentType string `json:"contentType" db:"content_type"`
}

// FileSummary дублирует часть записи, чтобы листинг и очистка
// обходились без чтения полной записи
type FileSummary struct {
	ExpireAt    int64  `json:"expireAt" db:"expire_at"`
	AccessToken string `json:"token" db:"access_token"`
	Size        int64  `json:"size" db:"size_bytes"`
	Filename    string `json:"filename" db:"filename"`
}

// FileEntry: элемент страницы листинга
type FileEntry struct {
	ID      string
	Summary FileSummary
}

// Page: одна страница обхода хранилища метаданных.
// Пустой курсор обозначает первую страницу.
type Page struct {
	Entries    []FileEntry
	NextCursor string
	Complete   bool
}

// IsExpired сообщает, истёк ли срок хранения к моменту now (unix, секунды).
// Нулевой expireAt означает бессрочное хранение и никогда не сравнивается с now.
func IsExpired(expireAt, now int64) bool {
	return expireAt != NeverExpires && expireAt <= now
}

func (r *FileRecord) IsExpired(now int64) bool {
	return IsExpired(r.ExpireAt, now)
}

func (r *FileRecord) IsProtected() bool {
	return r.AccessToken != ""
}

// Summary строит денормализованные метаданные для листинга
func (r *FileRecord) Summary(size int64) FileSummary {
	return FileSummary{
		ExpireAt:    r.ExpireAt,
		AccessToken: r.AccessToken,
		Size:        size,
		Filename:    r.Filename,
	}
}

func (s FileSummary) IsExpired(now int64) bool {
	return IsExpired(s.ExpireAt, now)
}

func (s FileSummary) HasToken() bool {
	return s.AccessToken != ""
}

// ExpiresAt возвращает время истечения или nil для бессрочных файлов
func (s FileSummary) ExpiresAt() *time.Time {
	if s.ExpireAt == NeverExpires {
		return nil
	}
	t := time.Unix(s.ExpireAt, 0).UTC()
	return &t
}

// FileUpload: параметры загрузки, разобранные из запроса
type FileUpload struct {
	ID          string // пустой: сгенерировать из ключа объекта
	TTL         int64  // секунды, 0: бессрочно
	Token       string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadedFile: результат успешной загрузки
type UploadedFile struct {
	ID     string
	Record FileRecord
	Size   int64
}
