package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"dataset-scanner/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrScanNotFound is returned when no archived scan has the requested id.
var ErrScanNotFound = errors.New("scan not found")

// ScanRepository archives scan reports in SQLite. Scans never read from it.
type ScanRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// scanRow is a scans table row
type scanRow struct {
	models.ScanRecord
	ReportJSON string `db:"report_json"`
}

// NewScanRepository opens (or creates) a SQLite archive at dbPath
func NewScanRepository(dbPath string, logger *zap.Logger) (*ScanRepository, error) {
	return OpenScanRepository(DriverSQLite, dbPath, logger)
}

// OpenScanRepository connects to the archive and applies migrations
func OpenScanRepository(driver, dsn string, logger *zap.Logger) (*ScanRepository, error) {
	db, err := Connect(driver, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := MigrateDB(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Scan repository initialized", zap.String("driver", driver))

	return &ScanRepository{
		db:     db,
		logger: logger,
	}, nil
}

// SaveScan stores a scan record together with its full report
func (r *ScanRepository) SaveScan(rec *models.ScanRecord) error {
	if rec.Report == nil {
		return fmt.Errorf("scan %s has no report", rec.ID)
	}

	reportJSON, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	row := scanRow{ScanRecord: *rec, ReportJSON: string(reportJSON)}
	row.CreatedAt = rec.CreatedAt.UTC()

	query := `
		INSERT INTO scans (id, source_name, created_at, total_lines, flagged_count, report_json)
		VALUES (:id, :source_name, :created_at, :total_lines, :flagged_count, :report_json)
	`

	if _, err := r.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}

	return nil
}

// GetScan retrieves a scan and its report by ID
func (r *ScanRepository) GetScan(id string) (*models.ScanRecord, error) {
	query := `
		SELECT id, source_name, created_at, total_lines, flagged_count, report_json
		FROM scans
		WHERE id = ?
	`

	var row scanRow
	err := r.db.Get(&row, r.db.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	rec := row.ScanRecord
	rec.Report = &models.ScanReport{}
	if err := json.Unmarshal([]byte(row.ReportJSON), rec.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report for scan %s: %w", id, err)
	}

	return &rec, nil
}

// ListScans returns scan summaries, newest first, without reports
func (r *ScanRepository) ListScans(limit int) ([]*models.ScanRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, source_name, created_at, total_lines, flagged_count
		FROM scans
		ORDER BY created_at DESC
		LIMIT ?
	`

	records := make([]*models.ScanRecord, 0)
	if err := r.db.Select(&records, r.db.Rebind(query), limit); err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}

	return records, nil
}

// DeleteScan removes an archived scan
func (r *ScanRepository) DeleteScan(id string) error {
	result, err := r.db.Exec(r.db.Rebind("DELETE FROM scans WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete scan: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrScanNotFound
	}

	return nil
}

// GetStats returns archive-wide counts
func (r *ScanRepository) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var scans, lines, flagged sql.NullInt64
	err := r.db.QueryRow("SELECT COUNT(*), SUM(total_lines), SUM(flagged_count) FROM scans").Scan(&scans, &lines, &flagged)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	stats["scans"] = scans.Int64
	stats["total_lines"] = lines.Int64
	stats["flagged_count"] = flagged.Int64

	return stats, nil
}

// Close closes the database connection
func (r *ScanRepository) Close() error {
	return r.db.Close()
}
