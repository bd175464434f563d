package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"flarebin/internal/domain"
	"flarebin/internal/identity"
	"flarebin/internal/repository"
	"flarebin/internal/storage"
)

const (
	// maxDeriveAttempts: сколько раз подбирать производный ID, прежде чем сдаться
	maxDeriveAttempts = 5
)

// DeleteReason: источник удаления, пишется в метрики и лог
type DeleteReason string

const (
	ReasonExplicit  DeleteReason = "explicit"
	ReasonLazy      DeleteReason = "lazy"
	ReasonSweep     DeleteReason = "sweep"
	ReasonOverwrite DeleteReason = "overwrite"
)

var reservedIDs = map[string]struct{}{
	"clean":     {},
	"list":      {},
	"multipart": {},
	"files":     {},
}

// IsReservedID сообщает, совпадает ли ID с маршрутом сервиса
func IsReservedID(id string) bool {
	_, ok := reservedIDs[id]
	return ok
}

var (
	filesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flarebin_files_created_total",
		Help: "Количество созданных файлов",
	})

	filesDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flarebin_files_deleted_total",
		Help: "Количество удалённых записей о файлах по источнику удаления",
	}, []string{"reason"})

	objectDeleteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flarebin_object_delete_failures_total",
		Help: "Неудачные удаления объектов; объект остаётся сиротой",
	})
)

// State: результат проверки записи по ID
type State int

const (
	StateAbsent State = iota
	StateExpired
	StateLive
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateExpired:
		return "expired"
	default:
		return "absent"
	}
}

// Inspection содержит запись и её состояние на момент проверки.
// Record заполнен для StateLive и StateExpired.
type Inspection struct {
	State  State
	Record *domain.FileRecord
}

// Download: живая запись и поток её содержимого
type Download struct {
	ID     string
	Record *domain.FileRecord
	Object *storage.Object
}

// FileService управляет жизненным циклом файла: метаданные: источник истины
// о существовании, объект в хранилище: best-effort копия байт.
type FileService struct {
	store    repository.MetadataStore
	objects  storage.Storage
	ids      *identity.Generator
	now      func() time.Time
	pageSize int
}

type Option func(*FileService)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(s *FileService) { s.now = now }
}

func WithPageSize(size int) Option {
	return func(s *FileService) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

func NewFileService(
	store repository.MetadataStore,
	objects storage.Storage,
	ids *identity.Generator,
	opts ...Option,
) *FileService {
	s := &FileService{
		store:    store,
		objects:  objects,
		ids:      ids,
		now:      time.Now,
		pageSize: repository.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now возвращает текущее время сервиса в unix-секундах
func (s *FileService) Now() int64 {
	return s.now().Unix()
}

// Inspect читает запись без побочных эффектов
func (s *FileService) Inspect(ctx context.Context, id string, now int64) (Inspection, error) {
	record, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return Inspection{State: StateAbsent}, nil
	}
	if err != nil {
		return Inspection{}, fmt.Errorf("%w: failed to read file %s: %w", domain.ErrUpstream, id, err)
	}

	if record.IsExpired(now) {
		return Inspection{State: StateExpired, Record: record}, nil
	}
	return Inspection{State: StateLive, Record: record}, nil
}

// ResolveFile возвращает живую запись. Истёкшая запись удаляется
// при первом обращении, даже если очистка ещё не проходила.
func (s *FileService) ResolveFile(ctx context.Context, id string, now int64) (*domain.FileRecord, error) {
	inspection, err := s.Inspect(ctx, id, now)
	if err != nil {
		return nil, err
	}

	switch inspection.State {
	case StateLive:
		return inspection.Record, nil
	case StateExpired:
		if err := s.DeleteExpired(ctx, id, now, ReasonLazy); err != nil && !errors.Is(err, domain.ErrNotFound) {
			// Ответ всё равно 404: запись истекла, удаление повторит очистка
			log.Error().Err(err).Str("file_id", id).Msg("Failed to delete expired file on read")
		}
		return nil, domain.ErrNotFound
	default:
		return nil, domain.ErrNotFound
	}
}

// DeleteFile удаляет объект (best-effort), затем запись. Результат определяет
// только удаление записи; исчезнувшая между чтением и удалением запись считается успехом.
func (s *FileService) DeleteFile(ctx context.Context, id string, reason DeleteReason) error {
	record, err := s.getRecord(ctx, id)
	if err != nil {
		return err
	}
	return s.remove(ctx, id, record, reason)
}

// DeleteExpired удаляет файл, только если запись, прочитанная здесь же, истекла.
// Живая запись (например, ID уже занят новой загрузкой) даёт ErrNotFound.
func (s *FileService) DeleteExpired(ctx context.Context, id string, now int64, reason DeleteReason) error {
	record, err := s.getRecord(ctx, id)
	if err != nil {
		return err
	}
	if !record.IsExpired(now) {
		return domain.ErrNotFound
	}
	return s.remove(ctx, id, record, reason)
}

func (s *FileService) getRecord(ctx context.Context, id string) (*domain.FileRecord, error) {
	record, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file %s: %w", domain.ErrUpstream, id, err)
	}
	return record, nil
}

func (s *FileService) remove(ctx context.Context, id string, record *domain.FileRecord, reason DeleteReason) error {
	if err := s.objects.DeleteObject(ctx, record.ObjectKey); err != nil {
		objectDeleteFailuresTotal.Inc()
		log.Warn().Err(err).
			Str("file_id", id).
			Str("object_key", record.ObjectKey).
			Msg("Failed to delete object, leaving it orphaned")
	}

	err := s.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrRecordNotFound) {
		return fmt.Errorf("%w: failed to delete file %s: %w", domain.ErrUpstream, id, err)
	}

	filesDeletedTotal.WithLabelValues(string(reason)).Inc()
	log.Info().
		Str("file_id", id).
		Str("object_key", record.ObjectKey).
		Int64("expire_at", record.ExpireAt).
		Str("reason", string(reason)).
		Msg("File deleted")
	return nil
}

// AccessCheck проверяет токен доступа защищённой записи
func AccessCheck(record *domain.FileRecord, token string) error {
	if record.IsProtected() && token != record.AccessToken {
		return domain.ErrForbidden
	}
	return nil
}

// CreateFile сохраняет содержимое и регистрирует файл. Объект пишется первым:
// если он не записался, записи о файле не будет.
func (s *FileService) CreateFile(ctx context.Context, upload domain.FileUpload) (*domain.UploadedFile, error) {
	if upload.Body == nil {
		return nil, fmt.Errorf("%w: no file is uploaded", domain.ErrValidation)
	}
	if upload.TTL < 0 {
		return nil, fmt.Errorf("%w: negative ttl", domain.ErrValidation)
	}

	now := s.Now()
	objectKey, err := s.ids.NewObjectKey()
	if err != nil {
		return nil, err
	}

	id, err := s.claimID(ctx, upload.ID, objectKey, now)
	if err != nil {
		return nil, err
	}

	record := newRecord(upload, objectKey, now)

	body := &countingReader{r: upload.Body}
	if err := s.objects.PutObject(ctx, objectKey, body, upload.Size, record.ContentType); err != nil {
		return nil, fmt.Errorf("%w: failed to store object for %s: %w", domain.ErrUpstream, id, err)
	}

	if err := s.store.Put(ctx, id, record, record.Summary(body.n)); err != nil {
		// Без записи объект никому не доступен: убираем его
		if delErr := s.objects.DeleteObject(ctx, objectKey); delErr != nil {
			objectDeleteFailuresTotal.Inc()
			log.Warn().Err(delErr).Str("object_key", objectKey).Msg("Failed to roll back object")
		}
		return nil, fmt.Errorf("%w: failed to save file %s: %w", domain.ErrUpstream, id, err)
	}

	filesCreatedTotal.Inc()
	log.Info().
		Str("file_id", id).
		Str("object_key", objectKey).
		Int64("expire_at", record.ExpireAt).
		Int64("size", body.n).
		Msg("File created")

	return &domain.UploadedFile{ID: id, Record: *record, Size: body.n}, nil
}

// CommitUpload регистрирует уже записанный объект (после загрузки по частям).
// При ошибке объект не удаляется: это решает вызывающий.
func (s *FileService) CommitUpload(ctx context.Context, upload domain.FileUpload, objectKey string, size int64) (*domain.UploadedFile, error) {
	if upload.TTL < 0 {
		return nil, fmt.Errorf("%w: negative ttl", domain.ErrValidation)
	}

	now := s.Now()
	id, err := s.claimID(ctx, upload.ID, objectKey, now)
	if err != nil {
		return nil, err
	}

	record := newRecord(upload, objectKey, now)
	if err := s.store.Put(ctx, id, record, record.Summary(size)); err != nil {
		return nil, fmt.Errorf("%w: failed to save file %s: %w", domain.ErrUpstream, id, err)
	}

	filesCreatedTotal.Inc()
	log.Info().
		Str("file_id", id).
		Str("object_key", objectKey).
		Int64("expire_at", record.ExpireAt).
		Int64("size", size).
		Msg("Multipart file committed")

	return &domain.UploadedFile{ID: id, Record: *record, Size: size}, nil
}

// CheckAvailable проверяет явный ID до начала загрузки по частям
func (s *FileService) CheckAvailable(ctx context.Context, id string) error {
	if err := checkRequestedID(id); err != nil {
		return err
	}
	inspection, err := s.Inspect(ctx, id, s.Now())
	if err != nil {
		return err
	}
	if inspection.State == StateLive {
		return fmt.Errorf("%w: %s", domain.ErrIDUnavailable, id)
	}
	return nil
}

// claimID выбирает свободный ID. Явный ID проверяется один раз; производный
// подбирается заново при коллизии. Гонка двух одновременных загрузок с одним
// ID не исключается: побеждает последняя запись.
func (s *FileService) claimID(ctx context.Context, requested, objectKey string, now int64) (string, error) {
	if requested != "" {
		if err := checkRequestedID(requested); err != nil {
			return "", err
		}
		available, err := s.available(ctx, requested, now)
		if err != nil {
			return "", err
		}
		if !available {
			return "", fmt.Errorf("%w: %s", domain.ErrIDUnavailable, requested)
		}
		return requested, nil
	}

	seed := objectKey
	for attempt := 0; attempt < maxDeriveAttempts; attempt++ {
		if attempt > 0 {
			var err error
			if seed, err = s.ids.NewObjectKey(); err != nil {
				return "", err
			}
		}

		candidate, err := s.ids.DeriveID(seed)
		if err != nil {
			return "", err
		}
		if IsReservedID(candidate) {
			continue
		}

		available, err := s.available(ctx, candidate, now)
		if err != nil {
			return "", err
		}
		if available {
			return candidate, nil
		}
		log.Debug().Str("file_id", candidate).Int("attempt", attempt+1).Msg("Derived file id is taken")
	}

	return "", fmt.Errorf("%w: no free id after %d attempts", domain.ErrIDUnavailable, maxDeriveAttempts)
}

// available освобождает слот истёкшей записи, чтобы она не занимала ID вечно
func (s *FileService) available(ctx context.Context, id string, now int64) (bool, error) {
	inspection, err := s.Inspect(ctx, id, now)
	if err != nil {
		return false, err
	}

	switch inspection.State {
	case StateLive:
		return false, nil
	case StateExpired:
		err := s.DeleteExpired(ctx, id, now, ReasonOverwrite)
		if errors.Is(err, domain.ErrNotFound) {
			// Запись исчезла или её уже заменила новая загрузка: перепроверяем
			again, err := s.Inspect(ctx, id, now)
			if err != nil {
				return false, err
			}
			return again.State != StateLive, nil
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func checkRequestedID(id string) error {
	if IsReservedID(id) {
		return fmt.Errorf("%w: %s", domain.ErrIDUnavailable, id)
	}
	if err := identity.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIDUnavailable, err)
	}
	return nil
}

func newRecord(upload domain.FileUpload, objectKey string, now int64) *domain.FileRecord {
	expireAt := domain.NeverExpires
	if upload.TTL > 0 {
		expireAt = now + upload.TTL
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = storage.DefaultContentType
	}

	return &domain.FileRecord{
		ObjectKey:   objectKey,
		ExpireAt:    expireAt,
		AccessToken: upload.Token,
		Filename:    upload.Filename,
		ContentType: contentType,
	}
}

// OpenContent находит живую запись, проверяет токен и открывает содержимое.
// Условия и диапазон передаются в хранилище объектов как есть.
func (s *FileService) OpenContent(ctx context.Context, id, token string, opts storage.GetOptions) (*Download, error) {
	record, err := s.ResolveFile(ctx, id, s.Now())
	if err != nil {
		return nil, err
	}
	if err := AccessCheck(record, token); err != nil {
		return nil, err
	}

	object, err := s.objects.GetObject(ctx, record.ObjectKey, opts)
	switch {
	case err == nil:
		return &Download{ID: id, Record: record, Object: object}, nil
	case errors.Is(err, storage.ErrObjectNotFound):
		log.Error().Str("file_id", id).Str("object_key", record.ObjectKey).Msg("Object is missing for a live file")
		return nil, domain.ErrObjectMissing
	case errors.Is(err, storage.ErrPreconditionFailed), errors.Is(err, storage.ErrInvalidRange):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: failed to open %s: %w", domain.ErrUpstream, id, err)
	}
}

// ListFiles возвращает все неистёкшие записи. Хранилище может отдать
// запись повторно (Redis SCAN), поэтому ID дедуплицируются.
func (s *FileService) ListFiles(ctx context.Context) ([]domain.FileEntry, error) {
	now := s.Now()
	seen := make(map[string]struct{})
	var entries []domain.FileEntry

	err := repository.ForEach(ctx, s.store, s.pageSize, func(entry domain.FileEntry) error {
		if entry.Summary.IsExpired(now) {
			return nil
		}
		if _, dup := seen[entry.ID]; dup {
			return nil
		}
		seen[entry.ID] = struct{}{}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	return entries, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
