// sweep_service.go: периодическая очистка истёкших файлов.
//
// Обходит всё хранилище метаданных постранично и удаляет записи, у которых
// истёк срок (по сводке, без чтения полной записи). Ошибка на одной записи
// не прерывает обход; уже удалённые записи пропускаются молча.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"flarebin/internal/domain"
	"flarebin/internal/repository"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flarebin_sweep_runs_total",
		Help: "Количество запусков очистки",
	})

	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flarebin_sweep_deleted_total",
		Help: "Количество файлов, удалённых очисткой",
	})

	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flarebin_sweep_errors_total",
		Help: "Ошибки при удалении отдельных записей и чтении страниц",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flarebin_sweep_duration_seconds",
		Help:    "Длительность очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// SweepResult описывает итог одного прохода
type SweepResult struct {
	Scanned  int
	Expired  int
	Deleted  int
	Skipped  int // уже удалены кем-то другим
	Errors   int
	Duration time.Duration
}

type SweepService struct {
	files    *FileService
	store    repository.MetadataStore
	interval time.Duration
	pageSize int
	logger   zerolog.Logger

	mu     sync.Mutex // один проход за раз
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweepService(files *FileService, store repository.MetadataStore, interval time.Duration, pageSize int) *SweepService {
	if pageSize <= 0 {
		pageSize = repository.DefaultPageSize
	}
	return &SweepService{
		files:    files,
		store:    store,
		interval: interval,
		pageSize: pageSize,
		logger:   log.With().Str("component", "sweep").Logger(),
	}
}

// Start запускает фоновый проход по таймеру. Первый проход выполняется сразу.
func (s *SweepService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("Sweep timer disabled")
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info().Str("interval", s.interval.String()).Msg("Sweeper started")
}

// Stop останавливает таймер и дожидается завершения текущего прохода
func (s *SweepService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info().Msg("Sweeper stopped")
}

func (s *SweepService) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один полный проход. Повторный или параллельный
// проход ничего не меняет сверх уже удалённого.
func (s *SweepService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.files.Now()
	result := &SweepResult{}

	pager := repository.NewPager(s.store, s.pageSize)
	for pager.HasNext() {
		if ctx.Err() != nil {
			s.logger.Warn().Err(ctx.Err()).Msg("Sweep interrupted")
			break
		}

		entries, err := pager.Next(ctx)
		if err != nil {
			// без страницы продолжать нечем: остаток подберёт следующий проход
			result.Errors++
			s.logger.Error().Err(err).Msg("Failed to list metadata page")
			break
		}

		for _, entry := range entries {
			result.Scanned++
			if !entry.Summary.IsExpired(now) {
				continue
			}
			result.Expired++

			err := s.files.DeleteExpired(ctx, entry.ID, now, ReasonSweep)
			switch {
			case err == nil:
				result.Deleted++
			case errors.Is(err, domain.ErrNotFound):
				result.Skipped++
			default:
				result.Errors++
				s.logger.Error().Err(err).Str("file_id", entry.ID).Msg("Failed to delete expired file")
			}
		}
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepDeletedTotal.Add(float64(result.Deleted))
	sweepErrorsTotal.Add(float64(result.Errors))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("expired", result.Expired).
		Int("deleted", result.Deleted).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("Sweep finished")

	return result
}
