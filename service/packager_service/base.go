package packager_service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"bundle-packager/conf"
	"bundle-packager/model"
)

const defaultTimeoutMinutes = 30

// basePackager carries what every variant shares: its platform, configuration and health probes
type basePackager struct {
	platform model.Platform
	cfg      conf.PlatformConfig
	tempRoot string
}

func (b *basePackager) Platform() model.Platform {
	return b.platform
}

func (b *basePackager) Initialize(cfg conf.PlatformConfig) error {
	if cfg.TimeoutMinutes <= 0 {
		cfg.TimeoutMinutes = defaultTimeoutMinutes
	}
	if cfg.HealthThreshold <= 0 {
		cfg.HealthThreshold = 0.6
	}
	b.cfg = cfg
	return nil
}

func (b *basePackager) timeout() time.Duration {
	return time.Duration(b.cfg.TimeoutMinutes) * time.Minute
}

// outputDir is where the variant writes artifacts for a request
func (b *basePackager) outputDir(req *Request) string {
	return filepath.Join(req.TempPath, string(b.platform))
}

func (b *basePackager) Cleanup(tempPath string) error {
	if tempPath == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(tempPath, string(b.platform)))
}

// CheckDependency looks name up on PATH and asks it for a version
func (b *basePackager) CheckDependency(ctx context.Context, name string) DependencyStatus {
	status := DependencyStatus{Name: name}
	p, err := exec.LookPath(name)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Available = true
	status.Path = p

	flag := "--version"
	if name == "java" {
		flag = "-version"
	}
	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(vctx, p, flag).CombinedOutput()
	if err == nil {
		status.Version = strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	}
	return status
}

// HealthCheck scores passed/total over dependency, temp root and command checks
func (b *basePackager) HealthCheck(ctx context.Context) *HealthReport {
	var checks []HealthCheckItem

	for _, dep := range b.cfg.Dependencies {
		st := b.CheckDependency(ctx, dep)
		item := HealthCheckItem{Name: "dependency:" + dep, Passed: st.Available}
		if st.Available {
			item.Message = st.Version
		} else {
			item.Message = st.Error
		}
		checks = append(checks, item)
	}

	checks = append(checks, b.tempRootCheck())

	if b.cfg.Command != "" {
		item := HealthCheckItem{Name: "command:" + b.cfg.Command}
		if _, err := exec.LookPath(b.cfg.Command); err != nil {
			item.Message = err.Error()
		} else {
			item.Passed = true
		}
		checks = append(checks, item)
	}

	return scoreReport(b.platform, b.cfg.HealthThreshold, checks)
}

func (b *basePackager) tempRootCheck() HealthCheckItem {
	item := HealthCheckItem{Name: "temp_root_writable"}
	root := b.tempRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		item.Message = err.Error()
		return item
	}
	dir, err := os.MkdirTemp(root, ".health-*")
	if err != nil {
		item.Message = err.Error()
		return item
	}
	os.RemoveAll(dir)
	item.Passed = true
	return item
}

func scoreReport(platform model.Platform, threshold float64, checks []HealthCheckItem) *HealthReport {
	report := &HealthReport{Platform: platform, Checks: checks, Recommendations: []string{}}
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
			continue
		}
		switch {
		case strings.HasPrefix(c.Name, "dependency:"):
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Install %s and make sure it is on PATH", strings.TrimPrefix(c.Name, "dependency:")))
		case strings.HasPrefix(c.Name, "command:"):
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Configure a resolvable command for %s", platform))
		default:
			report.Recommendations = append(report.Recommendations, "Make the temp root writable")
		}
	}
	if len(checks) > 0 {
		report.Score = float64(passed) / float64(len(checks))
	}
	report.Healthy = report.Score >= threshold
	return report
}
