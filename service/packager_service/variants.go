package packager_service

import (
	"fmt"
	"path/filepath"

	"bundle-packager/model"
)

// WindowsPackager builds NSIS/portable installers through electron-builder
type WindowsPackager struct {
	externalBuilder
}

// NewWindowsPackager create windows packager
func NewWindowsPackager(tempRoot string) *WindowsPackager {
	return &WindowsPackager{externalBuilder{basePackager: basePackager{platform: model.PlatformWindows, tempRoot: tempRoot}}}
}

func (p *WindowsPackager) Validate(req *Request) *ValidationResult {
	v := validateCommon(req)
	if !v.Valid {
		return v
	}
	validateIcon(v, req, iconRule{minSize: 256, extensions: []string{".ico", ".png"}})
	validatePackageJSON(v, req)
	return v
}

// MacOSPackager builds dmg/pkg images through electron-builder
type MacOSPackager struct {
	externalBuilder
}

// NewMacOSPackager create macos packager
func NewMacOSPackager(tempRoot string) *MacOSPackager {
	return &MacOSPackager{externalBuilder{basePackager: basePackager{platform: model.PlatformMacOS, tempRoot: tempRoot}}}
}

func (p *MacOSPackager) Validate(req *Request) *ValidationResult {
	v := validateCommon(req)
	if !v.Valid {
		return v
	}
	validateIcon(v, req, iconRule{minSize: 512})
	validatePackageJSON(v, req)
	if req.Options["bundle_id"] == "" {
		v.addWarning("no bundle_id option, electron-builder will derive one from the app name")
	}
	return v
}

// LinuxPackager builds AppImage/deb/rpm packages through electron-builder
type LinuxPackager struct {
	externalBuilder
}

// NewLinuxPackager create linux packager
func NewLinuxPackager(tempRoot string) *LinuxPackager {
	return &LinuxPackager{externalBuilder{basePackager: basePackager{platform: model.PlatformLinux, tempRoot: tempRoot}}}
}

func (p *LinuxPackager) Validate(req *Request) *ValidationResult {
	v := validateCommon(req)
	if !v.Valid {
		return v
	}
	if name := linuxPackageName(req.AppName); !linuxNamePattern.MatchString(name) {
		v.addError(fmt.Sprintf("app name %q cannot be used as a linux package name", req.AppName))
	}
	validateIcon(v, req, iconRule{minSize: 256})
	validatePackageJSON(v, req)
	return v
}

// AndroidPackager builds APKs through the capacitor CLI
type AndroidPackager struct {
	externalBuilder
}

// NewAndroidPackager create android packager
func NewAndroidPackager(tempRoot string) *AndroidPackager {
	p := &AndroidPackager{externalBuilder{basePackager: basePackager{platform: model.PlatformAndroid, tempRoot: tempRoot}}}
	p.privateTree = true
	p.artifactRoots = func(req *Request) []string {
		return []string{filepath.Join(req.WorkingPath, "android", "app", "build", "outputs")}
	}
	return p
}

func (p *AndroidPackager) Validate(req *Request) *ValidationResult {
	v := validateCommon(req)
	if !v.Valid {
		return v
	}
	id := req.Options["package_id"]
	switch {
	case id == "":
		v.addError("missing required option package_id")
	case !packageIDPattern.MatchString(id):
		v.addError(fmt.Sprintf("package_id %q is not a reverse-domain identifier", id))
	}
	validateIcon(v, req, iconRule{minSize: 192})
	return v
}
