package main

import (
	"os"
	"path/filepath"
	"testing"

	"calibkit/internal/config"
	"calibkit/internal/rawimage"
)

func writeRawFrame(t *testing.T, path string) {
	t.Helper()
	const width, height = 64, 48
	px := make([]int16, width*height)
	for i := range px {
		px[i] = int16(i % 500)
	}
	rec := &rawimage.Record{Bitpix: 16, Axes: []int{width, height}, Pixels: px, Header: rawimage.NewHeader()}
	if err := rawimage.Write(path, rec); err != nil {
		t.Fatalf("write raw frame: %v", err)
	}
}

func TestRunUnsupportedCameraExitCode(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvConfigPath, filepath.Join(dir, "missing.json"))
	in := filepath.Join(dir, "raw.fits")
	out := filepath.Join(dir, "out.fits")
	writeRawFrame(t, in)

	if code := run([]string{"reformat", "-i", in, "-o", out, "-c", "Z"}); code != exitUnsupportedCamera {
		t.Fatalf("exit code = %d, want %d", code, exitUnsupportedCamera)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output %s should not exist, stat err = %v", out, err)
	}
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvConfigPath, filepath.Join(dir, "missing.json"))
	in := filepath.Join(dir, "raw.fits")
	writeRawFrame(t, in)

	out := filepath.Join(dir, "r1.fits")
	if code := run([]string{"reformat", "-i", in, "-o", out, "-c", "r1"}); code != 0 {
		t.Fatalf("reformat r1: exit code = %d, want 0", code)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("reformat r1 wrote nothing: %v", err)
	}

	if code := run([]string{"reformat", "-i", filepath.Join(dir, "absent.fits"), "-o", out, "-c", "r1"}); code != 1 {
		t.Fatalf("missing input: exit code = %d, want 1", code)
	}
}
