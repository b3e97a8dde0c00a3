package fingerprint_service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"bundle-packager/conf"
	"bundle-packager/model"
)

const (
	ModeCore = "core"
	ModeFull = "full"

	// RecordFileName name of the fingerprint record inside an install directory
	RecordFileName = ".fingerprint.yaml"
)

// assetDirs are sampled in core mode in addition to the core files
var assetDirs = []string{"assets", "static", "js", "css"}

// skipDirs are never descended into
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// InstallTarget identifies where a build was last installed
type InstallTarget struct {
	AppName  string
	Platform model.Platform
}

// FingerprintService computes, compares and records build fingerprints
type FingerprintService struct {
	cfg conf.FingerprintConfig
	now func() time.Time
}

// NewFingerprintService create fingerprint service instance
func NewFingerprintService(cfg conf.FingerprintConfig) *FingerprintService {
	if cfg.Mode == "" {
		cfg.Mode = ModeCore
	}
	return &FingerprintService{cfg: cfg, now: time.Now}
}

// AutoRecord reports whether successful builds should be recorded
func (s *FingerprintService) AutoRecord() bool {
	return s.cfg.AutoRecord
}

// ComputeFingerprint hashes the representative files of buildRoot.
// Core mode covers the configured core files plus a sorted sample of the asset
// directories; full mode covers every regular file.
func (s *FingerprintService) ComputeFingerprint(buildRoot string) (*model.FileFingerprintSet, error) {
	info, err := os.Stat(buildRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat build root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build root %s is not a directory", buildRoot)
	}

	var paths []string
	if s.cfg.Mode == ModeFull {
		paths, err = listFiles(buildRoot, "")
		if err != nil {
			return nil, err
		}
	} else {
		paths, err = s.corePaths(buildRoot)
		if err != nil {
			return nil, err
		}
	}

	set := &model.FileFingerprintSet{
		CapturedAt: s.now().UTC(),
		Mode:       s.cfg.Mode,
		Files:      make(map[string]model.FileFingerprint, len(paths)),
	}
	for _, rel := range paths {
		fp, err := hashFile(filepath.Join(buildRoot, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		set.Files[rel] = fp
	}
	return set, nil
}

func (s *FingerprintService) corePaths(buildRoot string) ([]string, error) {
	var paths []string
	for _, name := range s.cfg.CoreFiles {
		rel := path.Clean("/" + filepath.ToSlash(name))[1:]
		info, err := os.Stat(filepath.Join(buildRoot, filepath.FromSlash(rel)))
		if err != nil || !info.Mode().IsRegular() {
			// missing core files are simply absent from the set
			continue
		}
		paths = append(paths, rel)
	}

	var assets []string
	for _, dir := range assetDirs {
		files, err := listFiles(buildRoot, dir)
		if err != nil {
			return nil, err
		}
		assets = append(assets, files...)
	}
	sort.Strings(assets)
	if s.cfg.MaxAssetFiles >= 0 && len(assets) > s.cfg.MaxAssetFiles {
		assets = assets[:s.cfg.MaxAssetFiles]
	}
	return append(paths, assets...), nil
}

// listFiles returns the slash-separated paths, relative to root, of regular files under root/sub
func listFiles(root, sub string) ([]string, error) {
	start := filepath.Join(root, filepath.FromSlash(sub))
	if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != start && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() == RecordFileName {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", start, err)
	}
	sort.Strings(files)
	return files, nil
}

func hashFile(p string) (model.FileFingerprint, error) {
	f, err := os.Open(p)
	if err != nil {
		return model.FileFingerprint{}, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.FileFingerprint{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return model.FileFingerprint{}, fmt.Errorf("failed to hash %s: %w", p, err)
	}
	return model.FileFingerprint{
		Hash:    hex.EncodeToString(h.Sum(nil)),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}, nil
}

// candidates lists record locations in probe order
func (s *FingerprintService) candidates(target InstallTarget) []string {
	var out []string
	for _, root := range s.cfg.InstallRoots {
		out = append(out, filepath.Join(root, target.AppName, string(target.Platform), RecordFileName))
	}
	for _, root := range s.cfg.InstallRoots {
		out = append(out, filepath.Join(root, target.AppName, RecordFileName))
	}
	return out
}

// LoadPrevious returns the first readable record for target. Any read or decode
// failure counts as no previous install.
func (s *FingerprintService) LoadPrevious(target InstallTarget) (*model.FileFingerprintSet, bool) {
	if target.AppName == "" {
		return nil, false
	}
	for _, p := range s.candidates(target) {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var set model.FileFingerprintSet
		if err := yaml.Unmarshal(data, &set); err != nil || set.Files == nil {
			continue
		}
		return &set, true
	}
	return nil, false
}

// Record writes set as the install record of target, replacing any previous record
func (s *FingerprintService) Record(target InstallTarget, set *model.FileFingerprintSet) error {
	if len(s.cfg.InstallRoots) == 0 {
		return errors.New("no install root configured")
	}
	if target.AppName == "" || set == nil {
		return errors.New("app name and fingerprint set are required")
	}

	dir := filepath.Join(s.cfg.InstallRoots[0], target.AppName, string(target.Platform))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create install dir: %w", err)
	}

	data, err := yaml.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, RecordFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create fingerprint file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write fingerprint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close fingerprint file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, RecordFileName)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move fingerprint into place: %w", err)
	}
	return nil
}

// Diff compares two sets by path and content hash. A nil previous is the empty set.
func Diff(previous, current *model.FileFingerprintSet) model.ComparisonResult {
	var prev, cur map[string]model.FileFingerprint
	if previous != nil {
		prev = previous.Files
	}
	if current != nil {
		cur = current.Files
	}

	res := model.ComparisonResult{
		ChangedFiles:   []string{},
		NewFiles:       []string{},
		DeletedFiles:   []string{},
		UnchangedFiles: []string{},
	}
	for p, fp := range cur {
		old, ok := prev[p]
		switch {
		case !ok:
			res.NewFiles = append(res.NewFiles, p)
		case old.Hash != fp.Hash:
			res.ChangedFiles = append(res.ChangedFiles, p)
		default:
			res.UnchangedFiles = append(res.UnchangedFiles, p)
		}
	}
	for p := range prev {
		if _, ok := cur[p]; !ok {
			res.DeletedFiles = append(res.DeletedFiles, p)
		}
	}

	sort.Strings(res.ChangedFiles)
	sort.Strings(res.NewFiles)
	sort.Strings(res.DeletedFiles)
	sort.Strings(res.UnchangedFiles)
	res.IsIdentical = len(res.ChangedFiles) == 0 && len(res.NewFiles) == 0 && len(res.DeletedFiles) == 0
	return res
}
