// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// ErrorHook is called for every built error while reporting is active.
type ErrorHook func(ee *EnhancedError)

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
	errorHooks              []ErrorHook

	// hasActiveReporting lets Build skip component detection when nobody listens.
	hasActiveReporting atomic.Bool
)

func refreshActiveReporting() {
	active := len(errorHooks) > 0 ||
		(globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled())
	hasActiveReporting.Store(active)
}

// SetTelemetryReporter sets the global telemetry reporter; nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	refreshActiveReporting()
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

// AddErrorHook registers a hook invoked for every built error.
func AddErrorHook(hook ErrorHook) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	errorHooks = append(errorHooks, hook)
	refreshActiveReporting()
}

// ClearErrorHooks removes all registered hooks.
func ClearErrorHooks() {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	errorHooks = nil
	refreshActiveReporting()
}

// reportToTelemetry runs hooks and the configured reporter
func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	hooks := errorHooks
	reporter := globalTelemetryReporter
	reporterMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// SentryConfig holds the settings needed to initialize the Sentry SDK.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// InitSentry initializes the Sentry SDK and installs a SentryReporter.
// The returned function flushes pending events and should be deferred.
func InitSentry(cfg SentryConfig) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, ValidationError("sentry dsn is empty")
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.Message = scrubMessageForPrivacy(event.Message)
			event.ServerName = ""
			event.User = sentry.User{}
			return event
		},
	})
	if err != nil {
		return func() {}, New(err).Category(CategoryConfiguration).Component("telemetry").Build()
	}

	SetTelemetryReporter(NewSentryReporter(true))
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection.
// Validation and not-found errors are expected in batch runs and are not sent.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}
	if ee.Category == CategoryValidation || ee.Category == CategoryNotFound || ee.Category == CategoryConflict {
		return
	}

	scrubbedMessage := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()
	errorContext := ee.GetContext()

	sentry.WithScope(func(scope *sentry.Scope) {
		errorTitle := generateErrorTitle(component, ee.Category, errorContext)

		scope.SetTag("error_title", errorTitle)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		for key, value := range errorContext {
			if strValue, ok := value.(string); ok {
				value = scrubMessageForPrivacy(strValue)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{errorTitle, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = scrubbedMessage
		event.Level = level
		event.Exception = []sentry.Exception{{Type: errorTitle, Value: scrubbedMessage}}

		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle builds a grouping title such as "Recognition Network Error Create Card".
func generateErrorTitle(component string, category ErrorCategory, errorContext map[string]any) string {
	var titleParts []string

	if component != "" && component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(component))
	}
	if categoryTitle := formatCategoryForTitle(category); categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}
	if operation, ok := errorContext["operation"].(string); ok && operation != "" {
		titleParts = append(titleParts, formatOperationForTitle(operation))
	}

	if len(titleParts) == 0 {
		return "Error"
	}
	return strings.Join(titleParts, " ")
}

// formatCategoryForTitle converts error categories to human-readable titles
func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation Error"
	case CategoryNetwork:
		return "Network Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryRecognition:
		return "Recognition API Error"
	case CategoryAlertSource:
		return "Alert Source Error"
	case CategoryCodec:
		return "Dossier Codec Error"
	default:
		return string(category)
	}
}

// formatOperationForTitle converts "create_card" to "Create Card"
func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryRecognition, CategoryRetry:
		return sentry.LevelWarning // Often transient
	case CategoryFileIO, CategoryHTTP:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// PrivacyScrubber is a function type for privacy scrubbing
type PrivacyScrubber func(string) string

var globalPrivacyScrubber atomic.Pointer[PrivacyScrubber]

// SetPrivacyScrubber sets the global privacy scrubbing function
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	if scrubber == nil {
		globalPrivacyScrubber.Store(nil)
		return
	}
	globalPrivacyScrubber.Store(&scrubber)
}

// scrubMessageForPrivacy applies privacy protection to error messages
func scrubMessageForPrivacy(message string) string {
	if p := globalPrivacyScrubber.Load(); p != nil {
		return (*p)(message)
	}
	return basicScrub(message)
}

var (
	urlQueryRegex  = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	urlCredRegex   = regexp.MustCompile(`(?i)([a-z][a-z0-9+.\-]*://)[^:@/\s]+:[^@/\s]+@`)
	secretRegex    = regexp.MustCompile(`(?i)(api[_-]?key|token|auth|senha|password)[=:]\S+`)
	nationalIDRgx  = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	dossierPathRgx = regexp.MustCompile(`nists[^\s"']*`)
)

// basicScrub removes query strings, credentials, national ids and dossier paths
func basicScrub(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = urlCredRegex.ReplaceAllString(scrubbed, "$1[REDACTED]@")
	scrubbed = secretRegex.ReplaceAllString(scrubbed, "[SECRET_REDACTED]")
	scrubbed = nationalIDRgx.ReplaceAllString(scrubbed, "[ID_REDACTED]")
	scrubbed = dossierPathRgx.ReplaceAllString(scrubbed, "[PATH_REDACTED]")
	return scrubbed
}
