package errors

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)
	ClearErrorHooks()

	ee := New(fmt.Errorf("test error")).Build()

	if ee.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Error())
	}
	if ee.GetComponent() != ComponentUnknown {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestBuilderFields(t *testing.T) {
	t.Parallel()

	base := NewStd("card rejected")
	ee := New(base).
		Component("upload").
		Category(CategoryUpload).
		Priority(PriorityHigh).
		Context("system", "FACE-1").
		Timing("create_card", 150*time.Millisecond).
		Build()

	if !Is(ee, base) {
		t.Error("EnhancedError should unwrap to the original error")
	}
	if ee.GetComponent() != "upload" {
		t.Errorf("unexpected component %q", ee.GetComponent())
	}
	if ee.GetPriority() != PriorityHigh {
		t.Errorf("unexpected priority %q", ee.GetPriority())
	}
	ctx := ee.GetContext()
	if ctx["system"] != "FACE-1" || ctx["operation"] != "create_card" || ctx["duration_ms"] != int64(150) {
		t.Errorf("unexpected context %v", ctx)
	}
	ctx["system"] = "mutated"
	if ee.GetContext()["system"] != "FACE-1" {
		t.Error("GetContext must return a copy")
	}

	if got := New(base).Priority("urgent").Build().Priority; got != PriorityMedium {
		t.Errorf("invalid priority should fall back to medium, got %q", got)
	}
}

func TestCategoryHelpers(t *testing.T) {
	t.Parallel()

	notFound := New(NewStd("card 9 not found")).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("sync link 3: %w", notFound)

	if !IsCategory(wrapped, CategoryNotFound) {
		t.Error("IsCategory should see through wrapping")
	}
	if IsCategory(wrapped, CategoryValidation) {
		t.Error("not-found error must not be a validation error")
	}
	if !IsCategory(FileError(NewStd("short read"), "a.nst", 10), CategoryFileIO) {
		t.Error("FileError should carry the file-io category")
	}
	if !Is(wrapped, &EnhancedError{Category: CategoryNotFound}) {
		t.Error("Is should match EnhancedError targets by category")
	}
}

func TestDetectCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg       string
		component string
		want      ErrorCategory
	}{
		{"context deadline exceeded", "", CategoryTimeout},
		{"dial tcp: connection refused", "", CategoryNetwork},
		{"open /x: no such file or directory", "", CategoryFileIO},
		{"invalid birth date", "", CategoryValidation},
		{"syntax error near SELECT", "datastore", CategoryDatabase},
		{"boom", "recognition", CategoryRecognition},
		{"boom", "", CategoryGeneric},
	}
	for _, tt := range tests {
		if got := detectCategory(NewStd(tt.msg), tt.component); got != tt.want {
			t.Errorf("detectCategory(%q, %q) = %q, want %q", tt.msg, tt.component, got, tt.want)
		}
	}
}

func TestReporterAndHooks(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	var hooked int
	AddErrorHook(func(*EnhancedError) { hooked++ })
	t.Cleanup(func() {
		SetTelemetryReporter(nil)
		ClearErrorHooks()
	})

	New(NewStd("upstream unavailable")).Component("alerts").Category(CategoryAlertSource).Build()

	if len(reporter.reported) != 1 {
		t.Fatalf("expected 1 reported error, got %d", len(reporter.reported))
	}
	if hooked != 1 {
		t.Errorf("expected hook to run once, got %d", hooked)
	}
	if !hasActiveReporting.Load() {
		t.Error("reporting should be active")
	}
}

func TestBasicScrub(t *testing.T) {
	t.Parallel()

	scrubbed := basicScrub("Error at https://face.local/cards?token=abc")
	if scrubbed != "Error at https://face.local/cards?[REDACTED]" {
		t.Errorf("URL scrubbing failed: %s", scrubbed)
	}

	scrubbed = basicScrub("login as mysql://mitra:s3cret@db:3306/x with senha=hunter22")
	if strings.Contains(scrubbed, "s3cret") || strings.Contains(scrubbed, "hunter22") {
		t.Errorf("credentials still present: %s", scrubbed)
	}

	scrubbed = basicScrub("record 12345678901 from nists/RR/2024-01-01/a.nst failed")
	if strings.Contains(scrubbed, "12345678901") || strings.Contains(scrubbed, "RR/2024") {
		t.Errorf("personal data still present: %s", scrubbed)
	}
}

func TestGenerateErrorTitle(t *testing.T) {
	t.Parallel()

	title := generateErrorTitle("recognition", CategoryNetwork, map[string]any{"operation": "create_card"})
	if title != "Recognition Network Error Create Card" {
		t.Errorf("unexpected title %q", title)
	}
	if generateErrorTitle("", "", nil) != "Error" {
		t.Error("empty inputs should produce a generic title")
	}
}
