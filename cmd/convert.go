package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/andresmejia3/rendition/internal/archive"
	"github.com/andresmejia3/rendition/internal/batch"
	"github.com/andresmejia3/rendition/internal/detector"
	"github.com/andresmejia3/rendition/internal/profile"
	"github.com/andresmejia3/rendition/internal/types"
	"github.com/andresmejia3/rendition/internal/utils"
	"github.com/andresmejia3/rendition/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Options holds the settings shared by convert and watch.
type Options struct {
	OutputDir   string
	Profiles    []string
	Custom      string
	Detect      bool
	Margin      float64
	NumEngines  int
	Zip         bool
	ZipProfiles []string
	PNGOnly     bool
	Preview     bool
	ReportPath  string
	Strict      bool
}

var convertOpts Options

var convertCmd = &cobra.Command{
	Use:   "convert [files or directories...]",
	Short: "Render every input image into each output profile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := convertOpts
		mergeConfig(cmd, &opts)
		return runConvert(cmd.Context(), opts, args, cmd.ErrOrStderr())
	},
}

func init() {
	f := convertCmd.Flags()
	f.StringVarP(&convertOpts.OutputDir, "output", "o", "", "Output directory (default from config: ./output)")
	f.StringSliceVarP(&convertOpts.Profiles, "profile", "p", nil, "Profiles to render (default: all in the catalog)")
	f.StringVar(&convertOpts.Custom, "custom", "", "Render only a custom profile, WIDTHxHEIGHT:KB (e.g. 800x800:120)")
	f.BoolVar(&convertOpts.Detect, "detect", false, "Detect faces and draw their outlines into every rendition")
	f.Float64Var(&convertOpts.Margin, "margin", 0.2, "Extra space above each face outline, as a fraction of its height")
	f.IntVarP(&convertOpts.NumEngines, "engines", "e", 0, "Number of images processed in parallel (0 = one per CPU)")
	f.BoolVar(&convertOpts.Zip, "zip", false, "Also bundle renditions into a zip archive")
	f.StringSliceVar(&convertOpts.ZipProfiles, "zip-profile", nil, "Profiles bundled into the archive (default from config: banner)")
	f.BoolVar(&convertOpts.PNGOnly, "png-only", false, "Only pick up .png files when walking directories")
	f.BoolVar(&convertOpts.Preview, "preview", false, "Also write {name}_faces.png, the original with face outlines")
	f.StringVar(&convertOpts.ReportPath, "report", "", "Write a JSON report of the run to this path")
	f.BoolVar(&convertOpts.Strict, "strict", false, "Exit non-zero if any image fails")

	rootCmd.AddCommand(convertCmd)
}

// mergeConfig fills options the user did not set on the command line from Cfg.
func mergeConfig(cmd *cobra.Command, opts *Options) {
	flags := cmd.Flags()
	if opts.OutputDir == "" {
		opts.OutputDir = Cfg.Output
	}
	if flags.Lookup("margin") != nil && !flags.Changed("margin") {
		opts.Margin = Cfg.Margin
	}
	if flags.Lookup("engines") != nil && !flags.Changed("engines") {
		opts.NumEngines = Cfg.Workers
	}
	if flags.Lookup("detect") != nil && !flags.Changed("detect") {
		opts.Detect = Cfg.Detect
	}
	if len(opts.ZipProfiles) == 0 {
		opts.ZipProfiles = Cfg.Archive.Profiles
	}
}

// selectProfiles resolves the profile flags against the configured catalog.
func selectProfiles(opts Options) ([]profile.Profile, error) {
	if opts.Custom != "" {
		p, err := profile.ParseCustom(opts.Custom)
		if err != nil {
			return nil, err
		}
		return []profile.Profile{p}, nil
	}
	if len(opts.Profiles) == 0 {
		return Cfg.Catalog(), nil
	}
	return profile.Resolve(Cfg.Catalog(), opts.Profiles)
}

// archiveProfiles keeps the requested archive profiles that were rendered.
// When none of them were, every rendered profile is archived.
func archiveProfiles(requested []string, rendered []profile.Profile) []string {
	names := profile.Names(rendered)
	var out []string
	for _, n := range requested {
		if slices.Contains(names, n) && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return names
	}
	return out
}

// workerFactory starts one Python detector per engine with the configured settings.
var workerFactory = func() detector.Factory {
	return worker.Factory(Cfg.Detector.Worker())
}

// newProcessor builds the pipeline for opts.
func newProcessor(opts Options, profiles []profile.Profile, onOutcome func(*batch.Outcome, int, int)) (*batch.Processor, error) {
	return batch.New(batch.Options{
		Profiles:  profiles,
		Workers:   opts.NumEngines,
		Detector:  detectorFactory(opts),
		Margin:    opts.Margin,
		BurnIn:    opts.Detect,
		Preview:   opts.Preview,
		Logger:    Log,
		OnOutcome: onOutcome,
	})
}

// runConvert orchestrates a bulk conversion: input discovery, the worker pool,
// writing artifacts as they finish, and the archive, report and summary.
func runConvert(ctx context.Context, opts Options, args []string, stderr io.Writer) error {
	profiles, err := selectProfiles(opts)
	if err != nil {
		return err
	}

	exts := utils.DefaultExtensions
	if opts.PNGOnly {
		exts = []string{".png"}
	}
	paths, err := utils.CollectInputs(args, exts)
	if err != nil {
		utils.ShowError("Failed to collect inputs", err)
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images found in %v", args)
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		utils.ShowError("Failed to create output directory", err)
		return err
	}

	fmt.Fprintf(stderr, "🖼️  %d images → %s (%s)\n", len(paths), opts.OutputDir, strings.Join(profile.Names(profiles), ", "))

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🎨 Rendering"),
		progressbar.OptionSetWriter(stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	var writeErrs []error
	proc, err := newProcessor(opts, profiles, func(o *batch.Outcome, done, total int) {
		if err := writeOutcome(opts.OutputDir, o); err != nil {
			writeErrs = append(writeErrs, err)
		}
		bar.Add(1)
	})
	if err != nil {
		return err
	}

	inputs := make([]batch.Input, len(paths))
	for i, p := range paths {
		inputs[i] = batch.FileInput(p)
	}

	run, runErr := proc.Run(ctx, inputs)
	bar.Finish()

	if run.Status == batch.StatusAborted {
		utils.ShowError("Detector startup failed", runErr)
		return runErr
	}

	if opts.Zip && run.Succeeded() > 0 {
		names := archiveProfiles(opts.ZipProfiles, profiles)
		zipPath := filepath.Join(opts.OutputDir, Cfg.Archive.Name)
		if err := archive.WriteFile(zipPath, run.ArchiveEntries(names...)); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("archive: %w", err))
		} else {
			fmt.Fprintf(stderr, "📦 Archive: %s (%v)\n", zipPath, names)
		}
	}

	if opts.ReportPath != "" {
		if err := writeReport(opts.ReportPath, run); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("report: %w", err))
		}
	}

	printSummary(stderr, run)

	if err := errors.Join(writeErrs...); err != nil {
		utils.ShowError("Failed to write outputs", err)
		return err
	}
	if runErr != nil {
		return runErr
	}
	if opts.Strict && len(run.Failed()) > 0 {
		return fmt.Errorf("%d of %d images failed", len(run.Failed()), run.Total())
	}
	return nil
}

// writeOutcome writes every successful rendition, and the preview if any.
func writeOutcome(dir string, o *batch.Outcome) error {
	var errs []error
	for _, r := range o.Renditions {
		if !r.OK() {
			continue
		}
		path := filepath.Join(dir, utils.ArtifactName(o.Base, r.Name()))
		if err := os.WriteFile(path, r.Data, 0644); err != nil {
			errs = append(errs, err)
		}
	}
	if len(o.Preview) > 0 {
		if err := os.WriteFile(filepath.Join(dir, utils.PreviewName(o.Base)), o.Preview, 0644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeReport(path string, run *batch.Run) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := run.WriteReport(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, run *batch.Run) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 RENDITION SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")

	for _, o := range run.Outcomes() {
		if !o.OK() {
			printFailure(w, o.Name, o.Error())
			continue
		}
		for _, r := range o.Renditions.Warnings() {
			fmt.Fprintf(w, "⚠️  %s: %v\n", o.Name, r.Warning)
		}
	}

	fmt.Fprintf(w, "\n🏁 %s\n", run.Summary())
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	Log.Info("run summary", zap.String("run", run.ID), zap.String("status", string(run.Status)))
}

// printFailure reports one failed image, with the engine's stderr if it crashed.
func printFailure(w io.Writer, name string, err error) {
	fmt.Fprintf(w, "❌ %s: %v\n", name, err)
	var engErr *types.EngineError
	if errors.As(err, &engErr) && engErr.Logs != "" {
		for _, line := range strings.Split(engErr.Logs, "\n") {
			fmt.Fprintf(w, "   │ %s\n", line)
		}
	}
}
