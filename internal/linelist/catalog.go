package linelist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CatalogSuffix is the file name suffix of per-lamp catalog tables.
const CatalogSuffix = "_air.ascii"

// ErrNoColumns is returned when a catalog header lacks the ion or wavelength column.
var ErrNoColumns = errors.New("catalog has no ion and wavelength columns")

// Line is one emission line.
type Line struct {
	Wave float64 `json:"wave"`
	Ion  string  `json:"ion"`
}

// NormalizeIon removes blanks so "Hg I" and "HgI" compare equal.
func NormalizeIon(ion string) string {
	return strings.Join(strings.Fields(ion), "")
}

var (
	ionColumns  = []string{"ion", "spectrum"}
	waveColumns = []string{"wave", "wavelength", "wave_air", "lambda"}
)

// ReadCatalog parses a catalog table. The first non-comment row names the
// columns; fields are separated by '|' when present, whitespace otherwise.
// Wavelengths are returned as stored (air).
func ReadCatalog(r io.Reader) ([]Line, error) {
	sc := bufio.NewScanner(r)
	ionIdx, waveIdx := -1, -1
	var lines []Line
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") || isRule(text) {
			continue
		}
		fields := splitRow(text)
		if ionIdx < 0 {
			ionIdx = column(fields, ionColumns)
			waveIdx = column(fields, waveColumns)
			if ionIdx < 0 || waveIdx < 0 {
				return nil, fmt.Errorf("%w: header %q", ErrNoColumns, text)
			}
			continue
		}
		if ionIdx >= len(fields) || waveIdx >= len(fields) {
			return nil, fmt.Errorf("catalog line %d: expected at least %d fields, got %d", lineNo, max(ionIdx, waveIdx)+1, len(fields))
		}
		wave, err := strconv.ParseFloat(fields[waveIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: bad wavelength %q: %w", lineNo, fields[waveIdx], err)
		}
		lines = append(lines, Line{Wave: wave, Ion: NormalizeIon(fields[ionIdx])})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if ionIdx < 0 {
		return nil, fmt.Errorf("%w: empty table", ErrNoColumns)
	}
	return lines, nil
}

func splitRow(text string) []string {
	if !strings.Contains(text, "|") {
		return strings.Fields(text)
	}
	parts := strings.Split(strings.Trim(text, "|"), "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func column(fields []string, names []string) int {
	for i, f := range fields {
		for _, n := range names {
			if strings.EqualFold(f, n) {
				return i
			}
		}
	}
	return -1
}

// isRule matches separator rows such as "|-----|------|".
func isRule(text string) bool {
	return strings.Trim(text, "-=+| ") == ""
}

// CatalogFiles lists the per-lamp tables in dir, restricted to lamps when
// given. The result maps lamp name to path.
func CatalogFiles(dir string, lamps []string) (map[string]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+CatalogSuffix))
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, l := range lamps {
		want[strings.ToLower(l)] = true
	}
	files := map[string]string{}
	for _, m := range matches {
		lamp := strings.TrimSuffix(filepath.Base(m), CatalogSuffix)
		if len(want) > 0 && !want[strings.ToLower(lamp)] {
			continue
		}
		files[lamp] = m
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s catalogs for lamps %v in %s", CatalogSuffix, lamps, dir)
	}
	return files, nil
}

// LoadCatalog reads every selected lamp table of dir. When vacuum is set the
// air wavelengths are converted to vacuum.
func LoadCatalog(dir string, lamps []string, vacuum bool) ([]Line, error) {
	files, err := CatalogFiles(dir, lamps)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for lamp := range files {
		names = append(names, lamp)
	}
	sort.Strings(names)

	var all []Line
	for _, lamp := range names {
		f, err := os.Open(files[lamp])
		if err != nil {
			return nil, err
		}
		lines, err := ReadCatalog(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", files[lamp], err)
		}
		all = append(all, lines...)
	}
	if vacuum {
		all = AirToVacuumAll(all)
	}
	return all, nil
}

// ReadSubset parses "wave ion" rows (air wavelengths); '#' lines and blank
// lines are skipped.
func ReadSubset(r io.Reader) ([]Line, error) {
	sc := bufio.NewScanner(r)
	var lines []Line
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("subset line %d: expected wave and ion, got %q", lineNo, text)
		}
		wave, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("subset line %d: bad wavelength %q: %w", lineNo, fields[0], err)
		}
		lines = append(lines, Line{Wave: wave, Ion: NormalizeIon(fields[1])})
	}
	return lines, sc.Err()
}
