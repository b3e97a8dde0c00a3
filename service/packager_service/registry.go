package packager_service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"bundle-packager/conf"
	"bundle-packager/logger"
	"bundle-packager/model"
)

// Registry platform -> packager
type Registry struct {
	mu        sync.RWMutex
	packagers map[model.Platform]Packager
}

// NewRegistry builds and initializes every enabled platform in cfg. A platform with
// remote_url set is wrapped in a RemotePackager.
func NewRegistry(cfg conf.PackagerConfig) (*Registry, error) {
	r := &Registry{packagers: make(map[model.Platform]Packager)}

	for _, platform := range model.AllPlatforms() {
		pc, ok := cfg.Platforms[string(platform)]
		if !ok || !pc.Enabled {
			continue
		}

		var p Packager
		switch platform {
		case model.PlatformWindows:
			p = NewWindowsPackager(cfg.TempRoot)
		case model.PlatformMacOS:
			p = NewMacOSPackager(cfg.TempRoot)
		case model.PlatformLinux:
			p = NewLinuxPackager(cfg.TempRoot)
		case model.PlatformAndroid:
			p = NewAndroidPackager(cfg.TempRoot)
		case model.PlatformPWA:
			p = NewPWAPackager(cfg.TempRoot)
		}
		if pc.RemoteURL != "" {
			p = NewRemotePackager(p)
		}

		if err := p.Initialize(pc); err != nil {
			return nil, fmt.Errorf("failed to initialize %s packager: %w", platform, err)
		}
		r.packagers[platform] = p
	}
	return r, nil
}

// Register adds or replaces the packager for p.Platform()
func (r *Registry) Register(p Packager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packagers[p.Platform()] = p
}

// Get returns the packager for platform
func (r *Registry) Get(platform model.Platform) (Packager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packagers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return p, nil
}

// Platforms registered platforms in a stable order
func (r *Registry) Platforms() []model.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	platforms := make([]model.Platform, 0, len(r.packagers))
	for p := range r.packagers {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// HealthReports runs every packager's health check concurrently
func (r *Registry) HealthReports(ctx context.Context) map[model.Platform]*HealthReport {
	platforms := r.Platforms()
	reports := make(map[model.Platform]*HealthReport, len(platforms))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, platform := range platforms {
		p, err := r.Get(platform)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			report := p.HealthCheck(ctx)
			mu.Lock()
			reports[platform] = report
			mu.Unlock()
		}()
	}
	wg.Wait()
	return reports
}

// Ready returns the packager for platform once its health check passes.
// The error names every failed check.
func (r *Registry) Ready(ctx context.Context, platform model.Platform) (Packager, error) {
	p, err := r.Get(platform)
	if err != nil {
		return nil, err
	}
	report := p.HealthCheck(ctx)
	if report != nil && report.Healthy {
		return p, nil
	}
	var failed []string
	score := 0.0
	if report != nil {
		score = report.Score
		for _, item := range report.Checks {
			if item.Passed {
				continue
			}
			if item.Message != "" {
				failed = append(failed, item.Name+" ("+item.Message+")")
			} else {
				failed = append(failed, item.Name)
			}
		}
	}
	if len(failed) == 0 {
		failed = append(failed, "health check")
	}
	logger.WarnKV(ctx, "Packager not ready", "platform", platform, "score", score, "failed", failed)
	return nil, fmt.Errorf("%w: %s scored %.2f, failed checks: %s", ErrUnhealthy, platform, score, strings.Join(failed, "; "))
}

// Available platforms whose packager is healthy
func (r *Registry) Available(ctx context.Context) []model.Platform {
	reports := r.HealthReports(ctx)
	var available []model.Platform
	for _, platform := range r.Platforms() {
		report := reports[platform]
		if report != nil && report.Healthy {
			available = append(available, platform)
			continue
		}
		logger.DebugKV(ctx, "Packager unavailable", "platform", platform)
	}
	return available
}
