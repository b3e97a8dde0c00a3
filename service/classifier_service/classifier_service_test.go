package classifier_service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundle-packager/model"
)

func TestClassifyTypedErrors(t *testing.T) {
	t.Parallel()
	c := NewClassifier()

	cases := []struct {
		err  error
		want model.ErrorType
	}{
		{&exec.Error{Name: "npx", Err: exec.ErrNotFound}, model.ErrorTypeDependencyMissing},
		{fmt.Errorf("package: %w", context.DeadlineExceeded), model.ErrorTypeTimeoutError},
		{&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, model.ErrorTypeNetworkError},
		{&fs.PathError{Op: "open", Path: "/tmp/x", Err: fs.ErrPermission}, model.ErrorTypeFileSystemError},
	}
	for _, tc := range cases {
		rec := c.Classify(tc.err, model.ErrorContext{})
		assert.Equal(t, tc.want, rec.Type, tc.err.Error())
	}
}

func TestClassifyTextSignatures(t *testing.T) {
	t.Parallel()
	c := NewClassifier()

	cases := map[string]model.ErrorType{
		"bash: electron-builder: command not found":                   model.ErrorTypeDependencyMissing,
		"sh: 1: electron-builder: not found":                          model.ErrorTypeDependencyMissing,
		"exit status 127: /bin/sh: 1: npx: not found":                 model.ErrorTypeDependencyMissing,
		"Error: Not Found":                                            model.ErrorTypeBuildFailed,
		"'java' is not recognized as an internal or external command": model.ErrorTypeDependencyMissing,
		"Error: spawn npx ENOENT":                                     model.ErrorTypeDependencyMissing,
		"Error: Cannot find module 'electron'":                        model.ErrorTypeDependencyMissing,
		"request timed out after 30s":                                 model.ErrorTypeTimeoutError,
		"connect ECONNREFUSED 127.0.0.1:4873":                         model.ErrorTypeNetworkError,
		"EACCES: permission denied, mkdir '/opt/out'":                 model.ErrorTypeFileSystemError,
		"ENOSPC: no space left on device":                             model.ErrorTypeFileSystemError,
		"invalid configuration: appId is missing required field":      model.ErrorTypeConfigurationError,
		"exit status 1":                                               model.ErrorTypeBuildFailed,
		"Build failed with 3 errors":                                  model.ErrorTypeBuildFailed,
		"something odd happened":                                      model.ErrorTypeUnknownError,
	}
	for msg, want := range cases {
		rec := c.Classify(errors.New(msg), model.ErrorContext{})
		assert.Equal(t, want, rec.Type, msg)
	}
}

func TestClassifySeverityTable(t *testing.T) {
	t.Parallel()
	c := NewClassifier()

	cases := []struct {
		errType     model.ErrorType
		severity    model.Severity
		recoverable bool
	}{
		{model.ErrorTypeDependencyMissing, model.SeverityHigh, false},
		{model.ErrorTypeConfigurationError, model.SeverityHigh, false},
		{model.ErrorTypeBuildFailed, model.SeverityMedium, true},
		{model.ErrorTypeFileSystemError, model.SeverityMedium, true},
		{model.ErrorTypeNetworkError, model.SeverityLow, true},
		{model.ErrorTypeTimeoutError, model.SeverityMedium, true},
		{model.ErrorTypeUnknownError, model.SeverityMedium, false},
	}
	for _, tc := range cases {
		rec := c.NewRecord(tc.errType, "x", model.ErrorContext{}, "")
		assert.Equal(t, tc.severity, rec.Severity, string(tc.errType))
		assert.Equal(t, tc.recoverable, rec.Recoverable, string(tc.errType))
		assert.NotEmpty(t, rec.Suggestions)
		assert.NotEmpty(t, rec.Id)
	}
}

func TestClassifyMissingToolSuggestion(t *testing.T) {
	t.Parallel()
	c := NewClassifier()
	ctx := model.ErrorContext{JobId: "job-1", Platform: model.PlatformWindows, Operation: "package"}

	rec := c.Classify(&exec.Error{Name: "npx", Err: exec.ErrNotFound}, ctx)
	require.Equal(t, model.ErrorTypeDependencyMissing, rec.Type)
	assert.Equal(t, "Install npx on the build host", rec.Suggestions[0])
	assert.Equal(t, ctx, rec.Context)
}

func TestClassifyShellNotFound(t *testing.T) {
	t.Parallel()
	c := NewClassifier()

	rec := c.Classify(errors.New("build failed: exit status 127: sh: 1: electron-builder: not found"), model.ErrorContext{})
	require.Equal(t, model.ErrorTypeDependencyMissing, rec.Type)
	assert.Equal(t, model.SeverityHigh, rec.Severity)
	assert.False(t, rec.Recoverable)
	assert.Equal(t, "Install electron-builder on the build host", rec.Suggestions[0])
	assert.False(t, ShouldAutoRetry(rec, 1, 3))
}

func TestClassifyPassesRecordThrough(t *testing.T) {
	t.Parallel()
	c := NewClassifier()

	orig := c.NewRecord(model.ErrorTypeConfigurationError, "bad icon", model.ErrorContext{Operation: "validate"}, "")
	rec := c.Classify(fmt.Errorf("wrapped: %w", orig), model.ErrorContext{JobId: "j", Platform: model.PlatformLinux})

	assert.Equal(t, orig.Id, rec.Id)
	assert.Equal(t, "validate", rec.Context.Operation)
	assert.Equal(t, "j", rec.Context.JobId)
	assert.Nil(t, c.Classify(nil, model.ErrorContext{}))
}

func TestShouldAutoRetry(t *testing.T) {
	t.Parallel()
	c := NewClassifier()

	network := c.NewRecord(model.ErrorTypeNetworkError, "x", model.ErrorContext{}, "")
	assert.True(t, ShouldAutoRetry(network, 1, 2))
	assert.True(t, ShouldAutoRetry(network, 2, 2))
	assert.False(t, ShouldAutoRetry(network, 3, 2))

	missing := c.NewRecord(model.ErrorTypeDependencyMissing, "x", model.ErrorContext{}, "")
	assert.False(t, ShouldAutoRetry(missing, 1, 2))

	unknown := c.NewRecord(model.ErrorTypeUnknownError, "x", model.ErrorContext{}, "")
	assert.False(t, ShouldAutoRetry(unknown, 1, 2))
	assert.False(t, ShouldAutoRetry(nil, 1, 2))
}
