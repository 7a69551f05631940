package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSweepError_Error(t *testing.T) {
	err := New(ErrCategoryBuild, CodeBuildFailed, "go build failed")
	expected := "[BUILD:BUILD_FAILED] go build failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSweepError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("exit status 2")
	err := Wrap(ErrCategoryRun, CodeRunFailed, "benchmark exited", cause)
	expected := "[RUN:RUN_FAILED] benchmark exited: exit status 2"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSweepError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryRegistry, CodeIdentifierConflict, "conflict", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestSweepError_Is(t *testing.T) {
	err1 := New(ErrCategoryRun, CodeRunFailed, "first")
	err2 := New(ErrCategoryRun, CodeRunFailed, "second")
	err3 := New(ErrCategoryDetect, CodeNoArtifact, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestSeverityOf(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		code     string
		severity Severity
	}{
		{ErrCategoryRun, CodeRunFailed, SeverityRun},
		{ErrCategoryDetect, CodeNoArtifact, SeverityRun},
		{ErrCategoryBuild, CodeBuildFailed, SeverityBenchmark},
		{ErrCategorySearch, CodeSearchExhausted, SeverityBenchmark},
		{ErrCategorySearch, CodeSearchFailed, SeverityBenchmark},
		{ErrCategoryConfig, CodeUnknownBenchmark, SeverityBenchmark},
		{ErrCategoryStorage, CodeUploadFailed, SeverityBenchmark},
		{ErrCategoryRegistry, CodeIdentifierConflict, SeverityPipeline},
		{ErrCategoryRegistry, CodeCatalogCorrupted, SeverityPipeline},
		{ErrCategoryConfig, CodeInvalidConfig, SeverityPipeline},
		{ErrCategoryInternal, CodeUnexpected, SeverityPipeline},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if SeverityOf(err) != tt.severity {
			t.Errorf("%s:%s severity=%v, want %v", tt.category, tt.code, SeverityOf(err), tt.severity)
		}
	}
}

func TestSeverityOf_PlainError(t *testing.T) {
	if SeverityOf(fmt.Errorf("plain error")) != SeverityBenchmark {
		t.Error("plain errors should default to benchmark severity")
	}
}

func TestSeverityOf_WrappedChain(t *testing.T) {
	inner := New(ErrCategoryRegistry, CodeIdentifierConflict, "D0310042 already recorded")
	outer := fmt.Errorf("sweeping fir: %w", inner)
	if SeverityOf(outer) != SeverityPipeline {
		t.Error("severity should be found through wrapped chains")
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategorySearch, CodeSearchExhausted, "no crossing before max")
	if GetCategory(err) != ErrCategorySearch {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategorySearch)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-SweepError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategorySearch, CodeSearchExhausted, "no crossing before max")
	if GetCode(err) != CodeSearchExhausted {
		t.Errorf("got %q, want %q", GetCode(err), CodeSearchExhausted)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-SweepError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryRun, CodeRunFailed, "benchmark exited")
	detailed := err.WithDetails(map[string]interface{}{"exit_code": 2})

	if detailed.Details["exit_code"] != 2 {
		t.Error("WithDetails should set details")
	}
	// Original should be unmodified
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	c := NewConfigError(CodeUnknownBenchmark, "no such benchmark")
	if c.Category != ErrCategoryConfig || c.Code != CodeUnknownBenchmark {
		t.Error("NewConfigError mismatch")
	}

	b := NewBuildError("go build failed", cause)
	if b.Category != ErrCategoryBuild || !errors.Is(b, cause) {
		t.Error("NewBuildError mismatch")
	}

	r := NewRunError("exit status 1", cause)
	if r.Category != ErrCategoryRun || r.Severity != SeverityRun {
		t.Error("NewRunError mismatch")
	}

	d := NewDetectError("no new trace files")
	if d.Category != ErrCategoryDetect || d.Severity != SeverityRun {
		t.Error("NewDetectError mismatch")
	}

	s := NewSearchError(CodeSearchExhausted, "reached max candidate", nil)
	if s.Category != ErrCategorySearch || s.Severity != SeverityBenchmark {
		t.Error("NewSearchError mismatch")
	}

	g := NewRegistryError(CodeIdentifierConflict, "duplicate id", cause)
	if g.Category != ErrCategoryRegistry || g.Severity != SeverityPipeline {
		t.Error("NewRegistryError mismatch")
	}

	st := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if st.Category != ErrCategoryStorage || !errors.Is(st, cause) {
		t.Error("NewStorageError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
