package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/services/executor"
	"github.com/Ramsey-B/fern/internal/services/importer"
	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/models"
)

const defaultListLimit = 50

type ImportHandler struct {
	service    *importer.Service
	packageDir string
	logger     ectologger.Logger
}

// NewImportHandler serves the import API. Packages are opened from packageDir only.
func NewImportHandler(service *importer.Service, packageDir string, logger ectologger.Logger) *ImportHandler {
	return &ImportHandler{service: service, packageDir: packageDir, logger: logger}
}

type PrepareRequest struct {
	// Path of the package directory or zip, relative to the package directory.
	Path        string `json:"path" validate:"required"`
	ExtractType string `json:"extract_type" validate:"omitempty,oneof=full update"`
}

type ProcessRequest struct {
	Table       string `json:"table"`
	BatchNumber int    `json:"batch_number" validate:"omitempty,gt=0"`
	Operation   string `json:"operation" validate:"omitempty,oneof=delete insert"`
}

type RecoverRequest struct {
	OlderThanSeconds int `json:"older_than_seconds" validate:"gt=0"`
}

type AbortRequest struct {
	Reason string `json:"reason"`
}

type ListResponse struct {
	Jobs  []models.ImportJob `json:"jobs"`
	Count int                `json:"count"`
}

type CountResponse struct {
	JobID   string `json:"job_id"`
	Batches int64  `json:"batches"`
}

func (h *ImportHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/imports")
	g.POST("", h.Prepare)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/progress", h.Progress)
	g.POST("/:id/batches", h.Process)
	g.POST("/:id/finalize", h.Finalize)
	g.POST("/:id/retry", h.Retry)
	g.POST("/:id/recover", h.Recover)
	g.POST("/:id/abort", h.Abort)
}

// Prepare stages a package and plans its batches.
// POST /api/v1/imports
func (h *ImportHandler) Prepare(c echo.Context) error {
	ctx := c.Request().Context()

	var req PrepareRequest
	if err := Bind(c, &req); err != nil {
		return err
	}

	path, err := h.resolve(req.Path)
	if err != nil {
		return err
	}

	pkg, err := archive.Open(path)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("path", req.Path).Warn("Failed to open package")
		return BadRequest("package cannot be opened: " + req.Path)
	}
	defer pkg.Close()

	result, err := h.service.Prepare(ctx, pkg, importer.PrepareOptions{ExtractType: models.ExtractType(req.ExtractType)})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// resolve keeps package paths inside the package directory.
func (h *ImportHandler) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", BadRequest("path must be relative to the package directory")
	}
	root := filepath.Clean(h.packageDir)
	path := filepath.Join(root, rel)
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", BadRequest("path escapes the package directory")
	}
	return path, nil
}

// List returns jobs newest first.
// GET /api/v1/imports?status=processing,failed&limit=20
func (h *ImportHandler) List(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return BadRequest("limit must be a positive integer")
		}
		limit = parsed
	}

	var statuses []models.JobStatus
	if raw := c.QueryParam("status"); raw != "" {
		statuses = ectolinq.Map(strings.Split(raw, ","), func(s string) models.JobStatus {
			return models.JobStatus(strings.TrimSpace(s))
		})
	}

	jobs, err := h.service.ListJobs(c.Request().Context(), statuses, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse{Jobs: jobs, Count: len(jobs)})
}

// GET /api/v1/imports/:id
func (h *ImportHandler) Get(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.service.GetJob(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// GET /api/v1/imports/:id/progress
func (h *ImportHandler) Progress(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	progress, err := h.service.GetProgress(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, progress)
}

// Process applies the addressed batch, or the next pending one when the body is empty.
// POST /api/v1/imports/:id/batches
func (h *ImportHandler) Process(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req ProcessRequest
	if err := Bind(c, &req); err != nil {
		return err
	}
	if (req.Table == "") != (req.BatchNumber == 0) {
		return BadRequest("table and batch_number must be given together")
	}

	result, err := h.service.ProcessBatch(c.Request().Context(), id, executor.Selector{
		Table:       req.Table,
		BatchNumber: req.BatchNumber,
		Operation:   models.Operation(req.Operation),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// POST /api/v1/imports/:id/finalize
func (h *ImportHandler) Finalize(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	result, err := h.service.Finalize(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Retry puts failed batches back to pending.
// POST /api/v1/imports/:id/retry
func (h *ImportHandler) Retry(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	reset, err := h.service.RetryFailed(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountResponse{JobID: id.String(), Batches: reset})
}

// POST /api/v1/imports/:id/recover
func (h *ImportHandler) Recover(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req RecoverRequest
	if err := Bind(c, &req); err != nil {
		return err
	}

	reverted, err := h.service.RecoverStale(c.Request().Context(), id, time.Duration(req.OlderThanSeconds)*time.Second)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountResponse{JobID: id.String(), Batches: reverted})
}

// POST /api/v1/imports/:id/abort
func (h *ImportHandler) Abort(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req AbortRequest
	if err := Bind(c, &req); err != nil {
		return err
	}
	if err := h.service.Abort(c.Request().Context(), id, req.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
