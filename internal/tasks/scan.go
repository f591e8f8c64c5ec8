package tasks

import (
	"path/filepath"
	"sort"

	"calibkit/internal/fsutil"
)

// ScanResult captures the frames found under a directory.
type ScanResult struct {
	Frames []string
	Groups []FrameGroup
}

// FrameGroup counts the frames of one directory.
type FrameGroup struct {
	BasePath string
	Count    int
}

// ScanFrames lists the FITS frames under input, grouped by directory.
func ScanFrames(input string, exts []string) (ScanResult, error) {
	files, err := fsutil.ListFrames(input, exts)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Frames: files, Groups: groupByDir(files)}, nil
}

func groupByDir(files []string) []FrameGroup {
	counts := map[string]int{}
	for _, f := range files {
		counts[filepath.Dir(f)]++
	}
	groups := make([]FrameGroup, 0, len(counts))
	for dir, n := range counts {
		groups = append(groups, FrameGroup{BasePath: dir, Count: n})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].BasePath < groups[j].BasePath })
	return groups
}
