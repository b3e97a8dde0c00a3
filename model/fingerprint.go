package model

import "time"

// FileFingerprint content hash of one file
type FileFingerprint struct {
	Hash    string    `yaml:"hash" json:"hash"`
	Size    int64     `yaml:"size" json:"size"`
	ModTime time.Time `yaml:"mtime" json:"mtime"`
}

// FileFingerprintSet hash manifest of a build's core files, keyed by slash-separated relative path
type FileFingerprintSet struct {
	AppName    string                     `yaml:"app_name" json:"appName"`
	AppVersion string                     `yaml:"app_version" json:"appVersion"`
	CapturedAt time.Time                  `yaml:"captured_at" json:"capturedAt"`
	Mode       string                     `yaml:"mode" json:"mode"`
	Files      map[string]FileFingerprint `yaml:"files" json:"files"`
}

// Paths returns the paths in the set
func (s *FileFingerprintSet) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	return paths
}

// ComparisonResult difference between two fingerprint sets
type ComparisonResult struct {
	ChangedFiles   []string `json:"changedFiles"`
	NewFiles       []string `json:"newFiles"`
	DeletedFiles   []string `json:"deletedFiles"`
	UnchangedFiles []string `json:"unchangedFiles"`
	IsIdentical    bool     `json:"isIdentical"`
}
