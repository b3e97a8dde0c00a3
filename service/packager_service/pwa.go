package packager_service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"bundle-packager/conf"
	"bundle-packager/model"
)

// PWAPackager zips the bundle as an installable web app, no external tool involved
type PWAPackager struct {
	basePackager
}

// NewPWAPackager create pwa packager
func NewPWAPackager(tempRoot string) *PWAPackager {
	return &PWAPackager{basePackager{platform: model.PlatformPWA, tempRoot: tempRoot}}
}

func (p *PWAPackager) Initialize(cfg conf.PlatformConfig) error {
	if len(cfg.ArtifactGlobs) == 0 {
		cfg.ArtifactGlobs = []string{"*.zip"}
	}
	return p.basePackager.Initialize(cfg)
}

func (p *PWAPackager) Validate(req *Request) *ValidationResult {
	v := validateCommon(req)
	if !v.Valid {
		return v
	}

	data, err := os.ReadFile(filepath.Join(req.WorkingPath, "manifest.json"))
	switch {
	case err != nil:
		v.addWarning("manifest.json not found, a minimal manifest will be generated")
	case !gjson.ValidBytes(data):
		v.addError("manifest.json is not valid JSON")
	default:
		m := gjson.ParseBytes(data)
		if !m.Get("icons").IsArray() || len(m.Get("icons").Array()) == 0 {
			v.addWarning("manifest.json declares no icons")
		}
		if !m.Get("start_url").Exists() {
			v.addWarning("manifest.json has no start_url")
		}
	}

	if !fileExists(filepath.Join(req.WorkingPath, "service-worker.js")) && !fileExists(filepath.Join(req.WorkingPath, "sw.js")) {
		v.addWarning("no service worker found, the app will not work offline")
	}
	return v
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// patchedManifest fills name, short_name, version and start_url when the bundle leaves them out
func patchedManifest(req *Request) ([]byte, error) {
	manifest := map[string]any{}
	data, err := os.ReadFile(filepath.Join(req.WorkingPath, "manifest.json"))
	if err == nil {
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("invalid configuration: manifest.json: %w", err)
		}
	}

	m := gjson.ParseBytes(data)
	if !m.Get("name").Exists() {
		manifest["name"] = req.AppName
	}
	if !m.Get("short_name").Exists() {
		manifest["short_name"] = req.AppName
	}
	if !m.Get("start_url").Exists() {
		manifest["start_url"] = "./index.html"
	}
	if !m.Get("display").Exists() {
		manifest["display"] = "standalone"
	}
	manifest["version"] = req.AppVersion

	return json.MarshalIndent(manifest, "", "  ")
}

func (p *PWAPackager) Package(ctx context.Context, req *Request, report ProgressFunc) (*Result, error) {
	if report == nil {
		report = func(int, string) {}
	}
	report(10, "preparing web app")

	manifest, err := patchedManifest(req)
	if err != nil {
		return nil, err
	}
	report(25, "manifest ready")

	name := fmt.Sprintf("%s-%s-pwa.zip", req.AppName, req.AppVersion)
	dst := filepath.Join(p.outputDir(req), name)

	report(40, "archiving")
	progress := func(done, total int) {
		report(40+done*50/total, fmt.Sprintf("archived %d/%d files", done, total))
	}
	overrides := map[string][]byte{"manifest.json": manifest}
	if err := zipDir(ctx, req.WorkingPath, dst, overrides, progress); err != nil {
		os.Remove(dst)
		return nil, err
	}

	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	report(100, "packaged "+name)
	return &Result{
		Filename: name,
		Packages: []string{name},
		Path:     dst,
		Size:     info.Size(),
		Type:     "zip",
	}, nil
}
