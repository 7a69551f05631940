// Package errors provides structured error types for the tracesmith pipeline.
// All errors include a category, code, message, and severity so callers can
// decide uniformly whether to skip a run, abort a benchmark, or halt the
// whole batch.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline component.
type ErrorCategory string

const (
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryBuild    ErrorCategory = "BUILD"
	ErrCategoryRun      ErrorCategory = "RUN"
	ErrCategoryDetect   ErrorCategory = "DETECT"
	ErrCategorySearch   ErrorCategory = "SEARCH"
	ErrCategoryRegistry ErrorCategory = "REGISTRY"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeUnknownBenchmark = "UNKNOWN_BENCHMARK"

	// Build codes
	CodeBuildFailed = "BUILD_FAILED"

	// Run codes
	CodeRunFailed = "RUN_FAILED"

	// Detect codes
	CodeNoArtifact = "NO_ARTIFACT_PRODUCED"

	// Search codes
	CodeSearchExhausted = "SIZE_SEARCH_EXHAUSTED"
	CodeSearchFailed    = "SIZE_SEARCH_FAILED"

	// Registry codes
	CodeIdentifierConflict = "IDENTIFIER_CONFLICT"
	CodeCatalogCorrupted   = "CATALOG_CORRUPTED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Severity is the propagation tier of an error.
type Severity int

const (
	// SeverityRun skips the current run invocation; the benchmark continues.
	SeverityRun Severity = iota
	// SeverityBenchmark aborts the current benchmark; the batch continues.
	SeverityBenchmark
	// SeverityPipeline halts the whole batch.
	SeverityPipeline
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityRun:
		return "run"
	case SeverityBenchmark:
		return "benchmark"
	case SeverityPipeline:
		return "pipeline"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// SweepError is the structured error type used throughout the pipeline.
type SweepError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
	Severity Severity
}

// Error returns a formatted error string.
func (e *SweepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SweepError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SweepError) Is(target error) bool {
	var t *SweepError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SweepError.
func New(category ErrorCategory, code, message string) *SweepError {
	return &SweepError{
		Category: category,
		Code:     code,
		Message:  message,
		Severity: severityOf(category, code),
	}
}

// Wrap creates a new SweepError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SweepError {
	return &SweepError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
		Severity: severityOf(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SweepError) WithDetails(details map[string]interface{}) *SweepError {
	cp := *e
	cp.Details = details
	return &cp
}

// SeverityOf extracts the propagation tier from an error chain.
// Plain errors default to SeverityBenchmark: an unclassified failure should
// stop the benchmark it came from but never take the batch down with it.
func SeverityOf(err error) Severity {
	var se *SweepError
	if errors.As(err, &se) {
		return se.Severity
	}
	return SeverityBenchmark
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SweepError.
func GetCategory(err error) ErrorCategory {
	var se *SweepError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SweepError.
func GetCode(err error) string {
	var se *SweepError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// severityOf assigns each code its propagation tier.
func severityOf(category ErrorCategory, code string) Severity {
	switch {
	case code == CodeRunFailed || code == CodeNoArtifact:
		return SeverityRun
	case code == CodeIdentifierConflict || code == CodeCatalogCorrupted:
		return SeverityPipeline
	case category == ErrCategoryConfig && code == CodeInvalidConfig:
		return SeverityPipeline
	case category == ErrCategoryInternal:
		return SeverityPipeline
	default:
		return SeverityBenchmark
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *SweepError {
	return New(ErrCategoryConfig, code, message)
}

func NewBuildError(message string, cause error) *SweepError {
	return Wrap(ErrCategoryBuild, CodeBuildFailed, message, cause)
}

func NewRunError(message string, cause error) *SweepError {
	return Wrap(ErrCategoryRun, CodeRunFailed, message, cause)
}

func NewDetectError(message string) *SweepError {
	return New(ErrCategoryDetect, CodeNoArtifact, message)
}

func NewSearchError(code, message string, cause error) *SweepError {
	return Wrap(ErrCategorySearch, code, message, cause)
}

func NewRegistryError(code, message string, cause error) *SweepError {
	return Wrap(ErrCategoryRegistry, code, message, cause)
}

func NewStorageError(code, message string, cause error) *SweepError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *SweepError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
