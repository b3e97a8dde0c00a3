package packager_service

import (
	"context"
	"errors"

	"bundle-packager/conf"
	"bundle-packager/model"
)

var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrNoArtifacts     = errors.New("build failed: no artifacts produced")
	ErrUnhealthy       = errors.New("packager unhealthy")
)

// ProgressFunc receives build progress, 0..100
type ProgressFunc func(progress int, message string)

// Request everything a packager needs to build one platform
type Request struct {
	JobId       string
	TaskId      string
	WorkingPath string // extracted bundle, shared read-only between tasks
	TempPath    string // task scratch dir, artifacts go under TempPath/<platform>/
	AppName     string
	AppVersion  string
	LogoPath    string // optional, absolute or relative to WorkingPath
	Options     map[string]string
}

// Result artifacts produced by a build
type Result struct {
	Filename string   `json:"filename"`
	Packages []string `json:"packages,omitempty"`
	Path     string   `json:"path"`
	Size     int64    `json:"size"`
	Type     string   `json:"type"`
}

// ValidationResult structural request check
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *ValidationResult) addError(msg string) {
	v.Valid = false
	v.Errors = append(v.Errors, msg)
}

func (v *ValidationResult) addWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

// HealthCheckItem one health probe
type HealthCheckItem struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// HealthReport packager readiness
type HealthReport struct {
	Platform        model.Platform    `json:"platform"`
	Healthy         bool              `json:"healthy"`
	Score           float64           `json:"score"`
	Remote          bool              `json:"remote"`
	Checks          []HealthCheckItem `json:"checks"`
	Recommendations []string          `json:"recommendations"`
}

// DependencyStatus availability of one external tool
type DependencyStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Packager builds installers for one platform
type Packager interface {
	Platform() model.Platform
	Initialize(cfg conf.PlatformConfig) error
	Validate(req *Request) *ValidationResult
	Package(ctx context.Context, req *Request, report ProgressFunc) (*Result, error)
	HealthCheck(ctx context.Context) *HealthReport
	CheckDependency(ctx context.Context, name string) DependencyStatus
	Cleanup(tempPath string) error
}

// IsRemote reports whether p delegates builds to a remote agent
func IsRemote(p Packager) bool {
	r, ok := p.(interface{ IsRemote() bool })
	return ok && r.IsRemote()
}

// monotonic wraps report so progress never goes backwards and stays in 0..100
func monotonic(report ProgressFunc) ProgressFunc {
	last := -1
	return func(progress int, message string) {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		if progress < last {
			progress = last
		}
		last = progress
		if report != nil {
			report(progress, message)
		}
	}
}
