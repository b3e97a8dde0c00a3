package packager_service

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	appNamePattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]{0,63}$`)
	appVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+([-+].*)?$`)
	linuxNamePattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]*$`)
	packageIDPattern  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)
)

// iconRule platform icon requirement
type iconRule struct {
	minSize    int
	extensions []string // allowed extensions, empty means any decodable image
}

// validateCommon checks what every platform needs: a readable working tree with
// an entry file and a sane name and version
func validateCommon(req *Request) *ValidationResult {
	v := &ValidationResult{Valid: true}

	if req.WorkingPath == "" {
		v.addError("working path is required")
		return v
	}
	info, err := os.Stat(req.WorkingPath)
	if err != nil || !info.IsDir() {
		v.addError(fmt.Sprintf("working path %s does not exist", req.WorkingPath))
		return v
	}

	entry := req.Options["entry"]
	if entry == "" {
		entry = "index.html"
	}
	if _, err := os.Stat(filepath.Join(req.WorkingPath, filepath.FromSlash(entry))); err != nil {
		v.addError(fmt.Sprintf("entry file %s not found in bundle", entry))
	}

	if !appNamePattern.MatchString(req.AppName) {
		v.addError(fmt.Sprintf("invalid app name %q", req.AppName))
	}
	if !appVersionPattern.MatchString(req.AppVersion) {
		v.addError(fmt.Sprintf("invalid app version %q, expected x.y.z", req.AppVersion))
	}
	if req.TempPath == "" {
		v.addError("temp path is required")
	}
	return v
}

// validateIcon applies rule to the resolved icon. A missing icon only warns.
func validateIcon(v *ValidationResult, req *Request, rule iconRule) {
	icon := resolveIcon(req)
	if icon == "" {
		v.addWarning("no icon found, the build tool default icon will be used")
		return
	}

	if len(rule.extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(icon))
		allowed := false
		for _, e := range rule.extensions {
			if ext == e {
				allowed = true
				break
			}
		}
		if !allowed {
			v.addError(fmt.Sprintf("icon must be one of %s, got %s", strings.Join(rule.extensions, ", "), filepath.Base(icon)))
			return
		}
	}

	w, h, err := iconSize(icon)
	if err != nil {
		v.addError(fmt.Sprintf("cannot read icon: %v", err))
		return
	}
	if w < rule.minSize || h < rule.minSize {
		v.addError(fmt.Sprintf("icon is %dx%d, at least %dx%d is required", w, h, rule.minSize, rule.minSize))
	}
}

// validatePackageJSON checks the electron manifest if the bundle ships one
func validatePackageJSON(v *ValidationResult, req *Request) {
	data, err := os.ReadFile(filepath.Join(req.WorkingPath, "package.json"))
	if err != nil {
		v.addWarning("package.json not found, one will be generated from the app name and version")
		return
	}
	if !gjson.ValidBytes(data) {
		v.addError("package.json is not valid JSON")
		return
	}

	pkg := gjson.ParseBytes(data)
	if !pkg.Get("main").Exists() {
		v.addWarning("package.json has no main field")
	}
	if version := pkg.Get("version").String(); version != "" && version != req.AppVersion {
		v.addWarning(fmt.Sprintf("package.json version %s differs from requested %s", version, req.AppVersion))
	}
}

// linuxPackageName derives a distro-safe package name
func linuxPackageName(appName string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(appName), " ", "-"))
}
