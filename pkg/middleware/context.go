package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

// HeaderWorkerID identifies the operator or poller driving an import.
const HeaderWorkerID = "X-Worker-ID"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, c.Path())
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			if workerID := req.Header.Get(HeaderWorkerID); workerID != "" {
				ctx = context.SetWorkerID(ctx, workerID)
			}
			if jobID := c.Param("id"); jobID != "" {
				ctx = context.SetJobID(ctx, jobID)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
