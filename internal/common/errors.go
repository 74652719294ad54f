package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrValidation   = errors.New("validation failed")
	ErrConfig       = errors.New("configuration error")
)

// Transient provider failures. Anything wrapping one of these is retried.
var (
	ErrRateLimited     = errors.New("provider rate limited")
	ErrProviderTimeout = errors.New("provider timeout")
	ErrConnection      = errors.New("provider connection failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ErrorCategory groups pipeline failures by origin.
type ErrorCategory string

const (
	CategoryIngestion      ErrorCategory = "ingestion"
	CategoryOCR            ErrorCategory = "ocr"
	CategoryPreprocessing  ErrorCategory = "preprocessing"
	CategoryClassification ErrorCategory = "classification"
	CategoryExtraction     ErrorCategory = "extraction"
	CategoryBoundingBox    ErrorCategory = "bounding_box"
	CategoryValidation     ErrorCategory = "validation"
	CategoryOutput         ErrorCategory = "output"
	CategorySystem         ErrorCategory = "system"
	CategoryNetwork        ErrorCategory = "network"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryConfiguration  ErrorCategory = "configuration"
)

// Severity of a pipeline failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PipelineError is the structured record every stage failure is converted into.
type PipelineError struct {
	Category  ErrorCategory
	Severity  Severity
	Stage     string
	Message   string
	Transient bool
	Context   map[string]any
	Timestamp time.Time
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Fatal reports whether the error halts the document.
func (e *PipelineError) Fatal() bool {
	switch e.Category {
	case CategoryPreprocessing, CategoryBoundingBox, CategoryValidation:
		return false
	}
	return e.Severity == SeverityHigh || e.Severity == SeverityCritical
}

// With attaches a context value and returns e.
func (e *PipelineError) With(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	e.Context[key] = value
	return e
}

func newPipelineError(cat ErrorCategory, sev Severity, stage, msg string, cause error) *PipelineError {
	return &PipelineError{
		Category:  cat,
		Severity:  sev,
		Stage:     stage,
		Message:   msg,
		Transient: IsTransient(cause),
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

func NewIngestionError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryIngestion, SeverityHigh, "ingestion", msg, cause)
}

func NewOCRError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryOCR, SeverityHigh, "ocr", msg, cause)
}

// NewPreprocessingError is downgraded to a warning by the orchestrator.
func NewPreprocessingError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryPreprocessing, SeverityLow, "preprocessing", msg, cause)
}

func NewClassificationError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryClassification, SeverityHigh, "classification", msg, cause)
}

func NewExtractionError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryExtraction, SeverityHigh, "extraction", msg, cause)
}

func NewBoundingBoxError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryBoundingBox, SeverityMedium, "bounding_box", msg, cause)
}

func NewValidationError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryValidation, SeverityLow, "validation", msg, cause)
}

func NewOutputError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryOutput, SeverityHigh, "output", msg, cause)
}

func NewConfigurationError(msg string, cause error) *PipelineError {
	return newPipelineError(CategoryConfiguration, SeverityCritical, "configuration", msg, cause)
}

// AsPipelineError converts any error into a PipelineError, defaulting to the
// given category when err is not already one.
func AsPipelineError(err error, fallback ErrorCategory, stage string) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	cat := fallback
	switch {
	case errors.Is(err, ErrConfig):
		cat = CategoryConfiguration
	case IsTransient(err):
		cat = CategoryNetwork
	}
	return newPipelineError(cat, SeverityHigh, stage, err.Error(), err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Transient {
		return true
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ToGRPC maps an error onto a gRPC status error.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrConfig):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case IsTransient(err):
		return status.Error(codes.Unavailable, err.Error())
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		switch pe.Category {
		case CategoryIngestion, CategoryValidation:
			return status.Error(codes.InvalidArgument, err.Error())
		case CategoryAuthentication:
			return status.Error(codes.Unauthenticated, err.Error())
		case CategoryConfiguration:
			return status.Error(codes.FailedPrecondition, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}
