package handlers

import (
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// ParseUUID parses a UUID path parameter.
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	raw := c.Param(param)
	if raw == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}
	return id, nil
}

// Bind decodes and validates a JSON body. An empty body leaves req at its zero value.
func Bind(c echo.Context, req any) error {
	if c.Request().ContentLength != 0 {
		if err := c.Bind(req); err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if err := validate.Struct(req); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
		}
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request").
			AddMetaValue("fields", strings.Join(fields, ","))
	}
	return nil
}

func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
