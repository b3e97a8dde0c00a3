package classifier_service

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"bundle-packager/model"
)

// rule maps lower-cased message signatures to an error type
type rule struct {
	errType  model.ErrorType
	patterns []string
}

// rules are tried in order, first match wins
var rules = []rule{
	{model.ErrorTypeDependencyMissing, []string{
		"command not found",
		"not recognized as an internal or external command",
		"executable file not found",
		"is not installed",
		"cannot find module",
		"missing dependency",
	}},
	{model.ErrorTypeTimeoutError, []string{
		"timeout", "timed out", "deadline exceeded", "etimedout",
	}},
	{model.ErrorTypeNetworkError, []string{
		"econnrefused", "econnreset", "enotfound", "connection refused",
		"network is unreachable", "no such host", "socket hang up",
	}},
	{model.ErrorTypeFileSystemError, []string{
		"eacces", "eperm", "enospc", "eexist", "permission denied",
		"no space left", "read-only file system", "file exists",
	}},
	{model.ErrorTypeConfigurationError, []string{
		"invalid configuration", "invalid config", "missing required",
		"validation failed", "invalid option",
	}},
	{model.ErrorTypeBuildFailed, []string{
		"build failed", "exit status", "compilation failed", "error:",
	}},
}

var (
	// spawn npx ENOENT, spawn node ENOENT
	spawnENOENT = regexp.MustCompile(`spawn\s+(\S+)\s+enoent`)
	// exec: "npx": executable file not found in $PATH
	execNotFound = regexp.MustCompile(`exec: "([^"]+)": executable file not found`)
	// sh: 1: electron-builder: not found / bash: line 1: npx: command not found
	shellNotFound = regexp.MustCompile(`(?:^|\s)(?:\S*/)?(?:ba|da|z|k)?sh:(?: (?:line )?\d+:)? ([\w.@-]+): (?:command )?not found`)
	// 'java' is not recognized as an internal or external command
	winNotRecognized = regexp.MustCompile(`'([^']+)' is not recognized`)
	// npx: no such file or directory
	toolNoSuchFile = regexp.MustCompile(`(?:^|\s)(node|npm|npx|java|electron-builder|cap|gradle|yarn|pnpm)\S*: no such file or directory`)

	// a match names a missing tool and outranks every substring rule
	toolSignatures = []*regexp.Regexp{execNotFound, spawnENOENT, winNotRecognized, toolNoSuchFile, shellNotFound}
)

type errorProfile struct {
	severity    model.Severity
	recoverable bool
	suggestions []string
}

var profiles = map[model.ErrorType]errorProfile{
	model.ErrorTypeDependencyMissing: {model.SeverityHigh, false, []string{
		"Install the missing build tool and make sure it is on PATH",
		"Run the packager health check to see which dependencies are unavailable",
	}},
	model.ErrorTypeConfigurationError: {model.SeverityHigh, false, []string{
		"Check the app name, version and platform options",
		"Verify the packager configuration for this platform",
	}},
	model.ErrorTypeBuildFailed: {model.SeverityMedium, true, []string{
		"Inspect the build output for the first error",
		"Make sure the bundle builds locally with the same tool versions",
	}},
	model.ErrorTypeFileSystemError: {model.SeverityMedium, true, []string{
		"Check free disk space under the temp root",
		"Check write permissions on the temp and install directories",
	}},
	model.ErrorTypeNetworkError: {model.SeverityLow, true, []string{
		"Check network connectivity to the package registry or build agent",
		"Retry the platform, transient network failures usually clear",
	}},
	model.ErrorTypeTimeoutError: {model.SeverityMedium, true, []string{
		"Retry the platform",
		"Increase timeout_minutes for this platform if builds are legitimately slow",
	}},
	model.ErrorTypeUnknownError: {model.SeverityMedium, false, []string{
		"Check the server logs for details",
	}},
}

// Classifier turns arbitrary errors into ErrorRecords
type Classifier struct {
	now func() time.Time
}

// NewClassifier create classifier instance
func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

// Classify categorizes err. An *model.ErrorRecord passes through with its context filled in.
func (c *Classifier) Classify(err error, ctx model.ErrorContext) *model.ErrorRecord {
	if err == nil {
		return nil
	}

	var existing *model.ErrorRecord
	if errors.As(err, &existing) {
		rec := *existing
		if rec.Context.JobId == "" {
			rec.Context.JobId = ctx.JobId
		}
		if rec.Context.Platform == "" {
			rec.Context.Platform = ctx.Platform
		}
		if rec.Context.Operation == "" {
			rec.Context.Operation = ctx.Operation
		}
		return &rec
	}

	msg := err.Error()
	errType := classifyTyped(err)
	if errType == "" {
		errType = classifyText(strings.ToLower(msg))
	}
	return c.NewRecord(errType, msg, ctx, missingTool(msg))
}

// NewRecord builds a record of the given type with its fixed severity and suggestions
func (c *Classifier) NewRecord(errType model.ErrorType, message string, ctx model.ErrorContext, tool string) *model.ErrorRecord {
	profile, ok := profiles[errType]
	if !ok {
		errType = model.ErrorTypeUnknownError
		profile = profiles[errType]
	}

	suggestions := make([]string, 0, len(profile.suggestions)+1)
	if errType == model.ErrorTypeDependencyMissing && tool != "" {
		suggestions = append(suggestions, "Install "+tool+" on the build host")
	}
	suggestions = append(suggestions, profile.suggestions...)

	return &model.ErrorRecord{
		Id:          uuid.NewString(),
		Type:        errType,
		Severity:    profile.severity,
		Recoverable: profile.recoverable,
		Message:     message,
		Suggestions: suggestions,
		Context:     ctx,
		Timestamp:   c.now(),
	}
}

func classifyTyped(err error) model.ErrorType {
	if errors.Is(err, exec.ErrNotFound) {
		return model.ErrorTypeDependencyMissing
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorTypeTimeoutError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return model.ErrorTypeTimeoutError
		}
		return model.ErrorTypeNetworkError
	}
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	if errors.As(err, &pathErr) || errors.As(err, &linkErr) {
		return model.ErrorTypeFileSystemError
	}
	return ""
}

func classifyText(msg string) model.ErrorType {
	for _, re := range toolSignatures {
		if re.MatchString(msg) {
			return model.ErrorTypeDependencyMissing
		}
	}
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return r.errType
			}
		}
	}
	return model.ErrorTypeUnknownError
}

// missingTool extracts the tool name from common "not found" messages
func missingTool(msg string) string {
	lower := strings.ToLower(msg)
	for _, re := range toolSignatures {
		if m := re.FindStringSubmatch(lower); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// ShouldAutoRetry reports whether a failure on the given attempt (1-based) may be retried automatically
func ShouldAutoRetry(rec *model.ErrorRecord, attempt, maxRetries int) bool {
	if rec == nil || !rec.Recoverable || rec.Severity == model.SeverityHigh {
		return false
	}
	return attempt <= maxRetries
}
