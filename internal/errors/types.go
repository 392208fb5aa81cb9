package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// PipelineError describes a failure in one stage of PTD generation together
// with the context needed to report it.
type PipelineError struct {
	Type        ErrorType `json:"type"`
	Message     string    `json:"message"`
	Context     string    `json:"context,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
	cause       error
}

// ErrorType categorises pipeline failures
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeInvalidInput
	ErrorTypeInvalidJSON
	ErrorTypeNoScheduleTable
	ErrorTypeNoVisitHeader
	ErrorTypeNoVisitColumns
	ErrorTypeNoForms
	ErrorTypeNoEvents
	ErrorTypeExtraction
	ErrorTypeTemplate
	ErrorTypeWorkbookWrite
	ErrorTypeRules
	ErrorTypeJobNotFound
	ErrorTypeJobNotCompleted
	ErrorTypeTimeout
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityFatal
)

func (e *PipelineError) Error() string {
	prefix := e.Type.String()
	if e.Stage != "" {
		prefix += " " + e.Stage
	}
	if e.Context != "" {
		return fmt.Sprintf("[%s] %s: %s", prefix, e.Message, e.Context)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *PipelineError) Unwrap() error {
	return e.cause
}

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeInvalidInput:
		return "INVALID_INPUT"
	case ErrorTypeInvalidJSON:
		return "INVALID_JSON"
	case ErrorTypeNoScheduleTable:
		return "NO_SCHEDULE_TABLE"
	case ErrorTypeNoVisitHeader:
		return "NO_VISIT_HEADER"
	case ErrorTypeNoVisitColumns:
		return "NO_VISIT_COLUMNS"
	case ErrorTypeNoForms:
		return "NO_FORMS"
	case ErrorTypeNoEvents:
		return "NO_EVENTS"
	case ErrorTypeExtraction:
		return "EXTRACTION"
	case ErrorTypeTemplate:
		return "TEMPLATE"
	case ErrorTypeWorkbookWrite:
		return "WORKBOOK_WRITE"
	case ErrorTypeRules:
		return "RULES"
	case ErrorTypeJobNotFound:
		return "JOB_NOT_FOUND"
	case ErrorTypeJobNotCompleted:
		return "JOB_NOT_COMPLETED"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// GetSeverity returns the severity level for a given error type
func (et ErrorType) GetSeverity() ErrorSeverity {
	switch et {
	case ErrorTypeNoForms, ErrorTypeNoEvents, ErrorTypeRules:
		return SeverityWarning
	case ErrorTypeInvalidInput, ErrorTypeInvalidJSON, ErrorTypeJobNotFound, ErrorTypeJobNotCompleted:
		return SeverityError
	case ErrorTypeNoScheduleTable, ErrorTypeNoVisitHeader, ErrorTypeNoVisitColumns:
		return SeverityCritical
	case ErrorTypeExtraction, ErrorTypeTemplate, ErrorTypeWorkbookWrite:
		return SeverityCritical
	case ErrorTypeTimeout:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// IsRecoverable reports whether the pipeline can continue past this error.
func (et ErrorType) IsRecoverable() bool {
	switch et {
	case ErrorTypeNoForms, ErrorTypeNoEvents, ErrorTypeRules:
		return true // stage falls back to empty output or defaults
	default:
		return false
	}
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(errorType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:        errorType,
		Message:     message,
		Recoverable: errorType.IsRecoverable(),
		Timestamp:   time.Now(),
	}
}

// Newf creates a PipelineError with a formatted message.
func Newf(errorType ErrorType, format string, args ...interface{}) *PipelineError {
	return NewPipelineError(errorType, fmt.Sprintf(format, args...))
}

// WrapError wraps a standard error as a PipelineError
func WrapError(errorType ErrorType, err error) *PipelineError {
	pe := NewPipelineError(errorType, err.Error())
	pe.cause = err
	return pe
}

// WithContext adds context to an existing PipelineError
func (e *PipelineError) WithContext(context string) *PipelineError {
	e.Context = context
	return e
}

// WithStage records which pipeline stage produced the error
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// WithFile adds file path information to an existing PipelineError
func (e *PipelineError) WithFile(filePath string) *PipelineError {
	e.FilePath = filePath
	return e
}

// GetSeverity returns the severity of this specific error
func (e *PipelineError) GetSeverity() ErrorSeverity {
	return e.Type.GetSeverity()
}

// IsCritical returns true if this error is critical or fatal
func (e *PipelineError) IsCritical() bool {
	severity := e.GetSeverity()
	return severity == SeverityCritical || severity == SeverityFatal
}

// IsType reports whether err, or anything it wraps, is a PipelineError of
// the given type.
func IsType(err error, errorType ErrorType) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type == errorType
	}
	return false
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type
	}
	return ErrorTypeUnknown
}

// ErrorCollection aggregates the errors and warnings of a pipeline run
type ErrorCollection struct {
	Errors   []*PipelineError `json:"errors"`
	Warnings []*PipelineError `json:"warnings"`
	FilePath string           `json:"file_path,omitempty"`
}

// NewErrorCollection creates a new error collection
func NewErrorCollection(filePath string) *ErrorCollection {
	return &ErrorCollection{
		Errors:   make([]*PipelineError, 0),
		Warnings: make([]*PipelineError, 0),
		FilePath: filePath,
	}
}

// Add adds an error to the appropriate collection based on severity
func (ec *ErrorCollection) Add(err *PipelineError) {
	if err.FilePath == "" && ec.FilePath != "" {
		err.FilePath = ec.FilePath
	}

	severity := err.GetSeverity()
	if severity == SeverityWarning || severity == SeverityInfo {
		ec.Warnings = append(ec.Warnings, err)
	} else {
		ec.Errors = append(ec.Errors, err)
	}
}

// HasCriticalErrors returns true if any critical errors exist
func (ec *ErrorCollection) HasCriticalErrors() bool {
	for _, err := range ec.Errors {
		if err.IsCritical() {
			return true
		}
	}
	return false
}

// Count returns the total number of errors and warnings
func (ec *ErrorCollection) Count() (errors, warnings int) {
	return len(ec.Errors), len(ec.Warnings)
}

// Summary returns a text summary of all errors and warnings
func (ec *ErrorCollection) Summary() string {
	errorCount, warningCount := ec.Count()
	if errorCount == 0 && warningCount == 0 {
		return "No errors or warnings"
	}

	summary := fmt.Sprintf("Found %d error(s) and %d warning(s)", errorCount, warningCount)

	if ec.HasCriticalErrors() {
		summary += " (including critical errors)"
	}

	return summary
}
