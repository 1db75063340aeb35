package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var res Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return rec.Code, res
}

func TestReadiness(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	c := NewChecker("test").Add("database", healthy)

	code, _ := serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	c.SetReady(true)
	code, res := serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, res.Checks["database"].Status)
}

func TestHealth_UnhealthyDependency(t *testing.T) {
	c := NewChecker("test").
		Add("database", PingFunc(func(context.Context) error { return nil })).
		Add("redis", PingFunc(func(context.Context) error { return errors.New("connection refused") }))

	code, res := serve(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "connection refused", res.Checks["redis"].Message)

	code, _ = serve(t, c, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
}
