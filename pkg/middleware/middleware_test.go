package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
)

func newTestEcho(handler echo.HandlerFunc) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	e.Use(Logger(logger))
	e.GET("/api/v1/imports/:id", handler)
	return e
}

func TestError_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMeta map[string]any
	}{
		{
			name:     "precondition carries outstanding batches",
			err:      fernerrors.NewPreconditionError(2, "2 batches outstanding"),
			wantCode: http.StatusConflict,
			wantMeta: map[string]any{"outstanding_batches": "2"},
		},
		{
			name:     "wrapped validation error",
			err:      errors.Wrap(fernerrors.NewValidationError("extract_number", "must be positive"), "prepare"),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "not found",
			err:      fernerrors.NotFound("import job %s not found", "x"),
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unknown error",
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "echo error",
			err:      echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"),
			wantCode: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEcho(func(c echo.Context) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/abc", nil)
			req.Header.Set(echo.HeaderXRequestID, "req-1")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "req-1", body.RequestID)
			assert.NotEmpty(t, body.Message)
			for k, v := range tt.wantMeta {
				assert.Equal(t, v, body.Meta[k])
			}
		})
	}
}

func TestContext_SetsRequestScopedValues(t *testing.T) {
	var requestID, jobID, workerID string
	e := newTestEcho(func(c echo.Context) error {
		ctx := c.Request().Context()
		requestID = appctx.GetRequestID(ctx)
		jobID = appctx.GetJobID(ctx)
		workerID = appctx.GetWorkerID(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/job-7", nil)
	req.Header.Set(HeaderWorkerID, "worker-a")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "job-7", jobID)
	assert.Equal(t, "worker-a", workerID)
}
