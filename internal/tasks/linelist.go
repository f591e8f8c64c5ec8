package tasks

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"calibkit/internal/linelist"
)

// LineListRequest defines inputs for generating a calibration line list.
type LineListRequest struct {
	Output     string
	Air        bool
	Subset     string
	CatalogDir string
	Lamps      []string
	Tolerance  float64
	Program    string
}

// LineListResult captures the written list.
type LineListResult struct {
	OutputFile string          `json:"output_file"`
	Lines      int             `json:"lines"`
	Vacuum     bool            `json:"vacuum"`
	Misses     []linelist.Miss `json:"misses,omitempty"`
}

func (r LineListResult) Meta() map[string]any {
	return map[string]any{
		"output": r.OutputFile,
		"lines":  r.Lines,
		"vacuum": r.Vacuum,
		"misses": len(r.Misses),
	}
}

// BuildLineList reads the catalog, optionally matches a subset against it and
// writes the sorted list. Subset lines without a catalog counterpart are
// logged and left out.
func BuildLineList(ctx context.Context, req LineListRequest, log *slog.Logger) (LineListResult, error) {
	if log == nil {
		log = slog.Default()
	}
	if req.Output == "" {
		return LineListResult{}, fmt.Errorf("linelist needs an output path")
	}
	tol := req.Tolerance
	if tol <= 0 {
		tol = linelist.DefaultTolerance
	}
	vacuum := !req.Air

	catalog, err := linelist.LoadCatalog(req.CatalogDir, req.Lamps, vacuum)
	if err != nil {
		return LineListResult{}, err
	}
	log.Debug("catalog loaded", "dir", req.CatalogDir, "lines", len(catalog), "vacuum", vacuum)

	lines := catalog
	var misses []linelist.Miss
	if req.Subset != "" {
		f, err := os.Open(req.Subset)
		if err != nil {
			return LineListResult{}, err
		}
		subset, err := linelist.ReadSubset(f)
		f.Close()
		if err != nil {
			return LineListResult{}, fmt.Errorf("%s: %w", req.Subset, err)
		}
		if vacuum {
			subset = linelist.AirToVacuumAll(subset)
		}
		lines, misses = linelist.Match(subset, catalog, tol)
		for _, m := range misses {
			log.Warn(m.String(), "ion", m.Line.Ion, "wave", m.Line.Wave, "reason", m.Reason)
		}
	}
	if err := ctx.Err(); err != nil {
		return LineListResult{}, err
	}

	program := req.Program
	if program == "" {
		program = "calibkit linelist"
	}
	var buf bytes.Buffer
	hdr := linelist.OutputHeader{Program: program, Subset: req.Subset, Vacuum: vacuum}
	if err := linelist.Write(&buf, hdr, lines); err != nil {
		return LineListResult{}, err
	}
	if dir := filepath.Dir(req.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return LineListResult{}, err
		}
	}
	if err := os.WriteFile(req.Output, buf.Bytes(), 0o644); err != nil {
		return LineListResult{}, err
	}

	return LineListResult{OutputFile: req.Output, Lines: len(lines), Vacuum: vacuum, Misses: misses}, nil
}
