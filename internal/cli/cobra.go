package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"calibkit/internal/config"
	"calibkit/internal/geometry"
	"calibkit/internal/pipeline"
	"calibkit/internal/rawimage"
	"calibkit/internal/tasks"
)

// Version is stamped at build time with -ldflags.
var Version = "0.3.0-dev"

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "calibkit",
		Short: "calibkit prepares spectrograph teststand calibration data",
		Long: `calibkit reformats raw 4-amplifier teststand frames, compares PSF models
and builds arc lamp line lists.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&root.history, "history", false, "record runs in the sqlite history")

	rootCmd.AddCommand(newReformatCmd(root))
	rootCmd.AddCommand(newGeometryCmd(root))
	rootCmd.AddCommand(newPSFCompareCmd(root))
	rootCmd.AddCommand(newLineListCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newReformatCmd(root *Root) *cobra.Command {
	var (
		input       string
		output      string
		camera      string
		hdu         int
		noFlip      bool
		defaultGain float64
	)

	cmd := &cobra.Command{
		Use:   "reformat",
		Short: "Rewrite the section keywords of a raw teststand frame",
		Long: `Read a raw 4-amplifier frame, derive PRESEC/DATASEC/BIASSEC/CCDSEC for every
amplifier and write a copy with the new keywords. By default the pixel rows
are flipped top to bottom and the amplifiers relabelled 1<->3, 2<->4.

Examples:
  calibkit reformat -i raw.fits -o r1.fits -c r1
  calibkit reformat -i raw.fits -o r1.fits -c r1 --no-flip`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := root.setup(ctx); err != nil {
				return err
			}
			job := pipeline.Job{
				ID:        newID("reformat"),
				Type:      pipeline.JobReformat,
				InputPath: input,
				Output:    output,
				Options: map[string]any{
					"camera":      camera,
					"hdu":         hdu,
					"flip":        root.cfg.Reformat.Flip && !noFlip,
					"defaultGain": defaultGain,
					"source":      "cli",
				},
			}
			res, err := root.enqueueAndWait(ctx, job)
			if err != nil {
				return err
			}
			if v, ok := res.Value.(tasks.ReformatResult); ok {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "wrote %s (camera %s, %s, flipped=%t)\n", v.OutputFile, v.Camera, v.Frame, v.Flipped)
				printCards(out, v.Header)
				for _, amp := range v.DefaultedGains {
					fmt.Fprintf(out, "GAIN%d defaulted to %g\n", amp, defaultGain)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "infile", "i", "", "raw input frame")
	cmd.Flags().StringVarP(&output, "outfile", "o", "", "reformatted output frame")
	cmd.Flags().StringVarP(&camera, "camera", "c", "", "camera name, e.g. r1")
	cmd.Flags().IntVar(&hdu, "hdu", root.cfg.Reformat.HDU, "image HDU to read")
	cmd.Flags().BoolVar(&noFlip, "no-flip", false, "keep the raw row order and amplifier labels")
	cmd.Flags().Float64Var(&defaultGain, "default-gain", root.cfg.Reformat.DefaultGain, "gain written for amplifiers without GAINn")
	cmd.MarkFlagRequired("infile")
	cmd.MarkFlagRequired("outfile")
	cmd.MarkFlagRequired("camera")

	return cmd
}

func newGeometryCmd(root *Root) *cobra.Command {
	var (
		camera string
		naxis1 int
		naxis2 int
		noFlip bool
	)

	cmd := &cobra.Command{
		Use:   "geometry",
		Short: "Print the sections a frame of the given size would receive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := geometry.DefaultOptions()
			opts.Flip = root.cfg.Reformat.Flip && !noFlip
			opts.DefaultGain = root.cfg.Reformat.DefaultGain
			res, err := geometry.Preview(camera, geometry.Dims{NAXIS1: naxis1, NAXIS2: naxis2}, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "camera %s (%s), %dx%d, flipped=%t\n", res.Camera, res.Family, naxis1, naxis2, res.Flipped)
			printKeywords(out, res.Layout.Keywords())
			return nil
		},
	}

	cmd.Flags().StringVarP(&camera, "camera", "c", "", "camera name, e.g. r1")
	cmd.Flags().IntVar(&naxis1, "naxis1", 0, "raw frame width")
	cmd.Flags().IntVar(&naxis2, "naxis2", 0, "raw frame height")
	cmd.Flags().BoolVar(&noFlip, "no-flip", false, "show the unflipped layout")
	cmd.MarkFlagRequired("camera")
	cmd.MarkFlagRequired("naxis1")
	cmd.MarkFlagRequired("naxis2")

	return cmd
}

func printKeywords(w io.Writer, kws []geometry.Keyword) {
	for _, kw := range kws {
		fmt.Fprintf(w, "%-8s = %v\n", kw.Name, kw.Value)
	}
}

func printCards(w io.Writer, cards []rawimage.Card) {
	for _, c := range cards {
		fmt.Fprintf(w, "%-8s = %v\n", c.Name, c.Value)
	}
}

func newPSFCompareCmd(root *Root) *cobra.Command {
	var (
		psf1       string
		psf2       string
		fiber      int
		fiber2     int
		wavelength float64
		output     string
	)

	cmd := &cobra.Command{
		Use:   "psf-compare",
		Short: "Compare two PSF models at one fiber and wavelength",
		Long: `Sample two PSF models on the same grid, report the ratio of their widths and
the single line photometric error, and save a comparison figure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := root.setup(ctx); err != nil {
				return err
			}
			opts := map[string]any{
				"psf2":       psf2,
				"fiber":      fiber,
				"wavelength": wavelength,
				"source":     "cli",
			}
			if cmd.Flags().Changed("fiber2") {
				opts["fiber2"] = fiber2
			}
			res, err := root.enqueueAndWait(ctx, pipeline.Job{
				ID:        newID("psf"),
				Type:      pipeline.JobPSFCompare,
				InputPath: psf1,
				Output:    output,
				Options:   opts,
			})
			if err != nil {
				return err
			}
			if v, ok := res.Value.(tasks.PSFCompareResult); ok && v.Comparison != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "fiber %d vs %d at %.1f A\n", v.Fiber1, v.Fiber2, v.Wavelength)
				fmt.Fprintf(out, "sigx1/sigx2 = %.4f\n", v.Comparison.SigmaXRatio)
				fmt.Fprintf(out, "sigy1/sigy2 = %.4f\n", v.Comparison.SigmaYRatio)
				fmt.Fprintf(out, "photometric error = %.4f\n", v.Comparison.PhotometricError)
				if v.OutputFile != "" {
					fmt.Fprintf(out, "figure %s\n", v.OutputFile)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&psf1, "psf1", "", "first PSF file")
	cmd.Flags().StringVar(&psf2, "psf2", "", "second PSF file")
	cmd.Flags().IntVar(&fiber, "fiber", 0, "spectrum index in the first PSF")
	cmd.Flags().IntVar(&fiber2, "fiber2", 0, "spectrum index in the second PSF (default --fiber)")
	cmd.Flags().Float64Var(&wavelength, "wavelength", root.cfg.PSF.Wavelength, "wavelength in Angstrom")
	cmd.Flags().StringVarP(&output, "output", "o", root.cfg.PSF.Output, "comparison figure (PNG)")
	cmd.MarkFlagRequired("psf1")
	cmd.MarkFlagRequired("psf2")

	return cmd
}

func newLineListCmd(root *Root) *cobra.Command {
	var (
		output     string
		air        bool
		subset     string
		catalogDir string
		lamps      []string
		tolerance  float64
	)

	cmd := &cobra.Command{
		Use:   "linelist",
		Short: "Build an arc lamp line list",
		Long: `Merge the lamp catalogs into one sorted line list, in vacuum unless --air.
With --subset only the listed lines are kept, each matched to the nearest
catalog line of the same ion.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := root.setup(ctx); err != nil {
				return err
			}
			res, err := root.enqueueAndWait(ctx, pipeline.Job{
				ID:        newID("linelist"),
				Type:      pipeline.JobLineList,
				InputPath: subset,
				Output:    output,
				Options: map[string]any{
					"air":        air,
					"catalogDir": catalogDir,
					"lamps":      lamps,
					"tolerance":  tolerance,
					"program":    "calibkit linelist",
					"source":     "cli",
				},
			})
			if err != nil {
				return err
			}
			if v, ok := res.Value.(tasks.LineListResult); ok {
				out := cmd.OutOrStdout()
				medium := "air"
				if v.Vacuum {
					medium = "vacuum"
				}
				fmt.Fprintf(out, "wrote %d lines (%s) to %s\n", v.Lines, medium, v.OutputFile)
				for _, m := range v.Misses {
					fmt.Fprintln(out, m.String())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output line list")
	cmd.Flags().BoolVar(&air, "air", false, "keep air wavelengths")
	cmd.Flags().StringVar(&subset, "subset", "", "file of ion/wavelength lines to keep")
	cmd.Flags().StringVar(&catalogDir, "catalog", root.cfg.LineList.CatalogDir, "directory of lamp catalogs")
	cmd.Flags().StringSliceVar(&lamps, "lamps", root.cfg.LineList.Lamps, "lamps to include, e.g. HgI,NeI")
	cmd.Flags().Float64Var(&tolerance, "tolerance", root.cfg.LineList.Tolerance, "subset match tolerance in Angstrom")
	cmd.MarkFlagRequired("output")

	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <directory>",
		Short: "List the FITS frames under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := tasks.ScanFrames(args[0], root.cfg.Reformat.Extensions)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, g := range res.Groups {
				fmt.Fprintf(out, "%s: %d frames\n", g.BasePath, g.Count)
			}
			fmt.Fprintf(out, "%d frames total\n", len(res.Frames))
			return nil
		},
	}
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		camera    string
		outputDir string
		existing  bool
		settle    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <directory>...",
		Short: "Reformat new frames as they land in a directory",
		Long: `Watch one or more directories and reformat every FITS frame that is created
or rewritten there, once it has been quiet for the settle interval.

Examples:
  calibkit watch /data/teststand --camera r1 --output-dir /data/reformatted`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := root.setup(ctx); err != nil {
				return err
			}
			return root.watchFrames(ctx, watchOptions{
				dirs:      args,
				camera:    camera,
				outputDir: outputDir,
				existing:  existing,
				settle:    settle,
			})
		},
	}

	cmd.Flags().StringVarP(&camera, "camera", "c", "", "camera name, e.g. r1")
	cmd.Flags().StringVar(&outputDir, "output-dir", root.cfg.Paths.DefaultOutput, "directory for reformatted frames")
	cmd.Flags().BoolVar(&existing, "existing", false, "also reformat frames already present")
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "quiet period before a frame is processed")
	cmd.MarkFlagRequired("camera")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		watchPaths []string
		camera     string
		outputDir  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start an HTTP server exposing run history, geometry previews and metrics.
Optionally watches directories and reformats new frames.

Examples:
  calibkit serve --addr :8080
  calibkit serve --addr :8080 --watch /data/teststand --camera r1 --output-dir /data/out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(watchPaths) > 0 && camera == "" {
				return fmt.Errorf("--watch needs --camera")
			}
			if err := root.setup(ctx); err != nil {
				return err
			}

			root.log.Info("starting server",
				"addr", addr,
				"watch_paths", watchPaths,
				"history", root.store != nil,
			)

			errCh := make(chan error, 1)
			go func() { errCh <- root.serveFn(ctx, addr, root.store, root.pipeline, root.log) }()

			if len(watchPaths) > 0 {
				go func() {
					err := root.watchFrames(ctx, watchOptions{
						dirs:      watchPaths,
						camera:    camera,
						outputDir: outputDir,
						settle:    2 * time.Second,
					})
					if err != nil {
						root.log.Error("watch stopped", "error", err)
					}
				}()
			}
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "listen address")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to watch for new frames")
	cmd.Flags().StringVarP(&camera, "camera", "c", "", "camera of the watched frames")
	cmd.Flags().StringVar(&outputDir, "output-dir", root.cfg.Paths.DefaultOutput, "directory for reformatted frames")

	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent calibration runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.openStore(); err != nil {
				return err
			}
			if root.store == nil {
				return fmt.Errorf("history is disabled; set history.enabled or pass --history")
			}
			runs, err := root.store.RecentRuns(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, run := range runs {
				line := fmt.Sprintf("%s  %-11s %-9s %-4s %s", run.ID, run.RunType, run.Status, run.Camera, run.InputPath)
				if run.Error != "" {
					line += "  error: " + run.Error
				}
				fmt.Fprintln(out, strings.TrimRight(line, " "))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", root.cfg.History.Limit, "number of runs to list")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate the calibkit configuration",
	}

	var format string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", config.Path())
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(root.cfg)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(root.cfg)
			default:
				return fmt.Errorf("unknown format %q (json|yaml)", format)
			}
		},
	}
	showCmd.Flags().StringVar(&format, "format", "yaml", "output format (json|yaml)")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "calibkit %s (%s)\n", Version, runtime.Version())
		},
	}
}
