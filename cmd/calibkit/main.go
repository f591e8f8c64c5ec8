package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"calibkit/internal/cli"
	"calibkit/internal/config"
	"calibkit/internal/geometry"
	"calibkit/internal/logging"
)

// exitUnsupportedCamera is returned for cameras with no known geometry.
const exitUnsupportedCamera = 12

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one command line and returns the process exit code.
func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = cli.Execute(ctx, cfg, log, args)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, geometry.ErrUnsupportedCamera):
		log.Error("unsupported camera", "error", err)
		return exitUnsupportedCamera
	default:
		log.Error("command failed", "error", err)
		return 1
	}
}
