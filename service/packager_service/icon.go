package packager_service

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// iconCandidates are probed in order when a request names no logo
var iconCandidates = []string{
	"icon.png", "logo.png", "icon.ico", "favicon.ico",
	"build/icon.png", "build/icon.ico", "assets/icon.png", "assets/logo.png",
	"public/icon.png", "public/logo.png",
}

// resolveIcon returns the absolute icon path for req, or "" when none exists
func resolveIcon(req *Request) string {
	if req.LogoPath != "" {
		if filepath.IsAbs(req.LogoPath) {
			return req.LogoPath
		}
		return filepath.Join(req.WorkingPath, filepath.FromSlash(req.LogoPath))
	}
	for _, name := range iconCandidates {
		p := filepath.Join(req.WorkingPath, filepath.FromSlash(name))
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// iconSize returns the largest width and height stored in the icon file
func iconSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".ico") {
		return icoSize(f)
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("unsupported icon %s: %w", filepath.Base(path), err)
	}
	return cfg.Width, cfg.Height, nil
}

// icoSize reads the ICO directory; a stored dimension of 0 means 256
func icoSize(r io.Reader) (int, int, error) {
	var header struct {
		Reserved uint16
		Type     uint16
		Count    uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, 0, fmt.Errorf("invalid ico header: %w", err)
	}
	if header.Reserved != 0 || header.Type != 1 || header.Count == 0 {
		return 0, 0, errors.New("invalid ico header")
	}

	maxW, maxH := 0, 0
	entry := make([]byte, 16)
	for i := 0; i < int(header.Count); i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return 0, 0, fmt.Errorf("invalid ico directory: %w", err)
		}
		w, h := int(entry[0]), int(entry[1])
		if w == 0 {
			w = 256
		}
		if h == 0 {
			h = 256
		}
		if w > maxW {
			maxW = w
		}
		if h > maxH {
			maxH = h
		}
	}
	return maxW, maxH, nil
}
