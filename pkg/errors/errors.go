package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ValidationError rejects a malformed package before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).AddMetaValue("field", e.Field)
}

// StagingError aborts prepare because one table of the package could not be read.
type StagingError struct {
	Table   string
	File    string
	Row     int
	Message string
	cause   error
}

func NewStagingError(table, file string, cause error) *StagingError {
	e := &StagingError{Table: table, File: file, cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

func (e *StagingError) AtRow(row int) *StagingError {
	e.Row = row
	return e
}

func (e *StagingError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("table '%s' (%s) row %d: %s", e.Table, e.File, e.Row, e.Message)
	}
	return fmt.Sprintf("table '%s' (%s): %s", e.Table, e.File, e.Message)
}

func (e *StagingError) Unwrap() error {
	return e.cause
}

func (e *StagingError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error()).
		AddMetaValue("table", e.Table).
		AddMetaValue("file", e.File).
		AddMetaValue("row", strconv.Itoa(e.Row))
}

// ExecutionError reports a batch that failed while being applied. The batch is left retryable.
type ExecutionError struct {
	Batch   models.BatchRef
	Message string
	cause   error
}

func NewExecutionError(ref models.BatchRef, cause error) *ExecutionError {
	e := &ExecutionError{Batch: ref, cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("batch %s failed: %s", e.Batch, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.cause
}

func (e *ExecutionError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusInternalServerError, e.Error()).
		AddMetaValue("job_id", e.Batch.JobID.String()).
		AddMetaValue("table", e.Batch.TableName).
		AddMetaValue("batch_number", strconv.Itoa(e.Batch.BatchNumber)).
		AddMetaValue("operation", string(e.Batch.Operation))
}

// PreconditionError rejects an operation whose preconditions do not hold. Nothing was mutated.
type PreconditionError struct {
	Message     string
	Outstanding int
}

func NewPreconditionError(outstanding int, format string, args ...any) *PreconditionError {
	return &PreconditionError{Message: fmt.Sprintf(format, args...), Outstanding: outstanding}
}

func (e *PreconditionError) Error() string {
	return e.Message
}

func (e *PreconditionError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("outstanding_batches", strconv.Itoa(e.Outstanding))
}

// ConflictError reports state that makes the request impossible right now.
type ConflictError struct {
	Message string
}

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error())
}

// NotFound returns a 404 HTTP error with a descriptive message.
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// Internal returns a 500 HTTP error.
func Internal(message string) error {
	return httperror.NewHTTPError(http.StatusInternalServerError, message)
}

type httpConvertible interface {
	ToHTTPError() *httperror.HTTPError
}

// ToHTTPError converts any error of this package found in the chain. It returns nil otherwise.
func ToHTTPError(err error) *httperror.HTTPError {
	var convertible httpConvertible
	if stderrors.As(err, &convertible) {
		return convertible.ToHTTPError()
	}
	return nil
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return stderrors.As(err, &target)
}

func IsStagingError(err error) bool {
	var target *StagingError
	return stderrors.As(err, &target)
}

func IsExecutionError(err error) bool {
	var target *ExecutionError
	return stderrors.As(err, &target)
}

func IsPreconditionError(err error) bool {
	var target *PreconditionError
	return stderrors.As(err, &target)
}

func IsConflictError(err error) bool {
	var target *ConflictError
	return stderrors.As(err, &target)
}

// IsNotFound reports whether err carries a 404 status.
func IsNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
