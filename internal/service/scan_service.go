package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dataset-scanner/internal/models"
	"dataset-scanner/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrArchiveDisabled is returned by archive lookups when persistence is off.
var ErrArchiveDisabled = errors.New("scan archive is disabled")

// ErrScanNotFound is returned when an archived scan does not exist.
var ErrScanNotFound = repository.ErrScanNotFound

// Scanner runs one independent scan over raw corpus bytes
type Scanner interface {
	Scan(ctx context.Context, raw []byte) *models.ScanReport
}

// ScanArchive stores finished reports
type ScanArchive interface {
	SaveScan(rec *models.ScanRecord) error
	GetScan(id string) (*models.ScanRecord, error)
	ListScans(limit int) ([]*models.ScanRecord, error)
	DeleteScan(id string) error
	GetStats() (map[string]interface{}, error)
}

// ScanService handles scan business logic
type ScanService struct {
	scanner Scanner
	archive ScanArchive
	logger  *zap.Logger
	now     func() time.Time
}

// NewScanService creates a new scan service. archive may be nil, in which
// case reports are returned but not kept.
func NewScanService(scanner Scanner, archive ScanArchive, logger *zap.Logger) *ScanService {
	return &ScanService{
		scanner: scanner,
		archive: archive,
		logger:  logger,
		now:     time.Now,
	}
}

// Scan scans raw corpus bytes and archives the report when possible. An
// archive failure is logged and does not fail the scan; a context that is
// already done does.
func (s *ScanService) Scan(ctx context.Context, sourceName string, raw []byte) (*models.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan of %s not started: %w", sourceName, err)
	}

	started := s.now()
	report := s.scanner.Scan(ctx, raw)

	id := uuid.New().String()

	s.logger.Info("Dataset scanned",
		zap.String("scan_id", id),
		zap.String("source", sourceName),
		zap.Int("bytes", len(raw)),
		zap.Int("total_lines", report.TotalLines),
		zap.Int("flagged_count", report.FlaggedCount),
		zap.Duration("elapsed", s.now().Sub(started)))

	if s.archive != nil {
		rec := &models.ScanRecord{
			ID:           id,
			SourceName:   sourceName,
			CreatedAt:    started,
			TotalLines:   report.TotalLines,
			FlaggedCount: report.FlaggedCount,
			Report:       report,
		}
		if err := s.archive.SaveScan(rec); err != nil {
			s.logger.Error("Failed to archive scan", zap.String("scan_id", id), zap.Error(err))
		}
	}

	return &models.ScanResult{ScanID: id, ScanReport: report}, nil
}

// GetScan returns an archived scan with its report
func (s *ScanService) GetScan(id string) (*models.ScanRecord, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.GetScan(id)
}

// ListScans returns archived scan summaries
func (s *ScanService) ListScans(limit int) ([]*models.ScanRecord, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.ListScans(limit)
}

// DeleteScan removes an archived scan
func (s *ScanService) DeleteScan(id string) error {
	if s.archive == nil {
		return ErrArchiveDisabled
	}
	return s.archive.DeleteScan(id)
}

// Cleaned rebuilds the cleaned corpus of an archived scan, dropping lines
// with any reason in exclude.
func (s *ScanService) Cleaned(id string, exclude map[models.Reason]bool) (string, error) {
	rec, err := s.GetScan(id)
	if err != nil {
		return "", err
	}
	if rec.Report == nil {
		return "", fmt.Errorf("scan %s has no report", id)
	}
	return rec.Report.CleanedExcluding(exclude), nil
}

// GetStats returns archive statistics
func (s *ScanService) GetStats() (map[string]interface{}, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.GetStats()
}
