package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultFrameExts are the FITS extensions recognised as detector frames.
var DefaultFrameExts = []string{".fits", ".fit", ".fts"}

// IsFrame reports whether path has one of exts (case-insensitive). A nil exts
// means DefaultFrameExts. Compressed ".fz" frames are not matched.
func IsFrame(path string, exts []string) bool {
	if exts == nil {
		exts = DefaultFrameExts
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// ListFrames returns the FITS frames under root in lexical order. Hidden
// files, such as in-progress writes, are skipped.
func ListFrames(root string, exts []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if IsFrame(path, exts) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// OutputPath maps a frame to its reformatted name in outDir, keeping the
// base name.
func OutputPath(outDir, frame string) string {
	return filepath.Join(outDir, filepath.Base(frame))
}
