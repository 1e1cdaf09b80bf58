package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"dataset-scanner/internal/models"
	"dataset-scanner/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultListLimit = 50

// ScanService is the part of the scan service the HTTP layer needs
type ScanService interface {
	Scan(ctx context.Context, sourceName string, raw []byte) (*models.ScanResult, error)
	GetScan(id string) (*models.ScanRecord, error)
	ListScans(limit int) ([]*models.ScanRecord, error)
	DeleteScan(id string) error
	Cleaned(id string, exclude map[models.Reason]bool) (string, error)
	GetStats() (map[string]interface{}, error)
}

// ProviderStatus reports embedding provider state
type ProviderStatus interface {
	ProvidersInfo() []map[string]interface{}
}

// Handler handles HTTP requests
type Handler struct {
	scans          ScanService
	providers      ProviderStatus
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewHandler creates a new API handler. maxUploadBytes <= 0 disables the
// upload limit.
func NewHandler(scans ScanService, providers ProviderStatus, maxUploadBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		scans:          scans,
		providers:      providers,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// Endpoints the dataset client talks to
	r.GET("/health", h.HealthCheck)
	r.POST("/scan", h.ScanUpload)

	api := r.Group("/api/v1")
	{
		api.POST("/scans", h.ScanUpload)
		api.GET("/scans", h.ListScans)
		api.GET("/scans/stats", h.GetStats)
		api.GET("/scans/:id", h.GetScan)
		api.DELETE("/scans/:id", h.DeleteScan)
		api.GET("/scans/:id/cleaned", h.DownloadCleaned)

		api.GET("/providers", h.GetProviders)
	}
}

// ScanUpload scans the multipart field "file". Non-multipart requests are
// scanned from the raw body, named by the "name" query parameter.
func (h *Handler) ScanUpload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	var (
		name string
		raw  []byte
		err  error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		name, raw, err = readFormFile(c)
	} else {
		name = c.DefaultQuery("name", "upload.jsonl")
		raw, err = io.ReadAll(c.Request.Body)
	}
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes)})
			return
		}
		h.logger.Warn("Rejected upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.scans.Scan(c.Request.Context(), name, raw)
	if err != nil {
		h.logger.Error("Failed to scan dataset", zap.String("file", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func readFormFile(c *gin.Context) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("multipart field \"file\" is required")
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return fh.Filename, raw, nil
}

// ListScans returns archived scan summaries
func (h *Handler) ListScans(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	scans, err := h.scans.ListScans(limit)
	if err != nil {
		h.archiveError(c, "Failed to list scans", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scans": scans,
		"total": len(scans),
	})
}

// GetScan returns one archived scan with its full report
func (h *Handler) GetScan(c *gin.Context) {
	rec, err := h.scans.GetScan(c.Param("id"))
	if err != nil {
		h.archiveError(c, "Failed to get scan", err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

// DeleteScan removes an archived scan
func (h *Handler) DeleteScan(c *gin.Context) {
	if err := h.scans.DeleteScan(c.Param("id")); err != nil {
		h.archiveError(c, "Failed to delete scan", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// DownloadCleaned streams the cleaned corpus of an archived scan. The
// exclude query holds comma-separated reasons; without it the default
// exclusion set applies.
func (h *Handler) DownloadCleaned(c *gin.Context) {
	exclude := models.DefaultCleanExclusions
	if raw, ok := c.GetQuery("exclude"); ok {
		parsed, err := models.ParseReasonList(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		exclude = parsed
	}

	cleaned, err := h.scans.Cleaned(c.Param("id"), exclude)
	if err != nil {
		h.archiveError(c, "Failed to build cleaned corpus", err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=cleaned.jsonl")
	c.Data(http.StatusOK, "application/x-ndjson", []byte(cleaned))
}

// GetStats returns archive statistics
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.scans.GetStats()
	if err != nil {
		h.archiveError(c, "Failed to get stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetProviders returns embedding provider failover state
func (h *Handler) GetProviders(c *gin.Context) {
	providers := h.providers.ProvidersInfo()
	c.JSON(http.StatusOK, gin.H{
		"providers": providers,
		"total":     len(providers),
	})
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) archiveError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrScanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
	case errors.Is(err, service.ErrArchiveDisabled):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// multipart does not always wrap the body error
	return strings.Contains(err.Error(), "request body too large")
}
