package model

import "time"

// ErrorType packaging failure category
type ErrorType string

const (
	ErrorTypeDependencyMissing  ErrorType = "DependencyMissing"
	ErrorTypeConfigurationError ErrorType = "ConfigurationError"
	ErrorTypeBuildFailed        ErrorType = "BuildFailed"
	ErrorTypeFileSystemError    ErrorType = "FileSystemError"
	ErrorTypeNetworkError       ErrorType = "NetworkError"
	ErrorTypeTimeoutError       ErrorType = "TimeoutError"
	ErrorTypeUnknownError       ErrorType = "UnknownError"
)

// Severity how loudly a failure is surfaced
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ErrorContext where an error originated
type ErrorContext struct {
	JobId     string   `json:"jobId,omitempty"`
	Platform  Platform `json:"platform,omitempty"`
	Operation string   `json:"operation,omitempty"`
}

// ErrorRecord structured, classified failure
type ErrorRecord struct {
	Id          string       `json:"id"`
	Type        ErrorType    `json:"type"`
	Severity    Severity     `json:"severity"`
	Recoverable bool         `json:"recoverable"`
	Message     string       `json:"message"`
	Suggestions []string     `json:"suggestions"`
	Context     ErrorContext `json:"context"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Error implements error so a record can travel through error returns
func (e *ErrorRecord) Error() string {
	return string(e.Type) + ": " + e.Message
}
