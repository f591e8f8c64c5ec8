package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"calibkit/internal/cli"
	"calibkit/internal/config"
	"calibkit/internal/logging"
	"calibkit/internal/rawimage"
)

func main() {
	fmt.Println("calibkit reformat smoke test")

	work, err := os.MkdirTemp("", "calibkit-smoke-")
	if err != nil {
		log.Fatal("Failed to create work directory:", err)
	}
	defer os.RemoveAll(work)

	cfg := config.Default()
	cfg.History.Enabled = true
	cfg.Paths.DatabasePath = filepath.Join(work, "history.db")
	logger := logging.New("info", "text")

	raw := filepath.Join(work, "raw.fits")
	if err := writeFrame(raw, 64, 48); err != nil {
		log.Fatal("Failed to write synthetic frame:", err)
	}
	fmt.Printf("wrote synthetic frame %s\n", raw)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	steps := [][]string{
		{"geometry", "--camera", "r1", "--naxis1", "4200", "--naxis2", "4210"},
		{"reformat", "-i", raw, "-o", filepath.Join(work, "r1.fits"), "-c", "r1"},
		{"reformat", "-i", raw, "-o", filepath.Join(work, "r1-noflip.fits"), "-c", "r1", "--no-flip"},
		{"history", "-n", "5"},
	}
	for _, args := range steps {
		fmt.Printf("\n$ calibkit %v\n", args)
		if err := cli.Execute(ctx, cfg, logger, args); err != nil {
			log.Fatalf("%s failed: %v", args[0], err)
		}
	}

	rec, err := rawimage.Read(filepath.Join(work, "r1.fits"), 0)
	if err != nil {
		log.Fatal("Failed to read reformatted frame:", err)
	}
	for _, key := range []string{"CAMERA", "DATASEC1", "CCDSEC3", "GAIN4"} {
		v, ok := rec.Header.Get(key)
		if !ok {
			log.Fatalf("reformatted frame is missing %s", key)
		}
		fmt.Printf("   %-8s = %v\n", key, v)
	}

	fmt.Println("\nsmoke test passed")
}

func writeFrame(path string, width, height int) error {
	px := make([]int16, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			px[row*width+col] = int16(row)
		}
	}
	hdr := rawimage.NewHeader()
	hdr.Set("OBSTYPE", "ARC", "")
	hdr.Set("GAIN1", 1.2, "e/ADU")
	return rawimage.Write(path, &rawimage.Record{Bitpix: 16, Axes: []int{width, height}, Pixels: px, Header: hdr})
}
