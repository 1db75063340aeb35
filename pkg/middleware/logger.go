package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			ctx := req.Context()
			fields := map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"method":        req.Method,
				"route":         c.Path(),
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"response_time": elapsed.Milliseconds(),
				"response_size": strconv.FormatInt(res.Size, 10),
			}
			if workerID := context.GetWorkerID(ctx); workerID != "" {
				fields["worker_id"] = workerID
			}
			if jobID := context.GetJobID(ctx); jobID != "" {
				fields["job_id"] = jobID
			}

			// Health probes and scrapes log at debug.
			log := logger.WithContext(ctx).WithFields(fields)
			switch {
			case strings.HasPrefix(c.Path(), "/api/v1/health"), c.Path() == "/metrics":
				log.Debug("Request")
			default:
				log.Info("Request")
			}

			return nil
		}
	}
}
