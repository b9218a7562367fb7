package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/rendition/internal/batch"
	"github.com/andresmejia3/rendition/internal/detector"
	"github.com/andresmejia3/rendition/internal/types"
	"github.com/andresmejia3/rendition/internal/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const watchDebounce = 500 * time.Millisecond

var watchOpts Options

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Render new images as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := watchOpts
		mergeConfig(cmd, &opts)
		return runWatch(cmd.Context(), opts, args[0], cmd.ErrOrStderr())
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringVarP(&watchOpts.OutputDir, "output", "o", "", "Output directory (default from config: ./output)")
	f.StringSliceVarP(&watchOpts.Profiles, "profile", "p", nil, "Profiles to render (default: all in the catalog)")
	f.StringVar(&watchOpts.Custom, "custom", "", "Render only a custom profile, WIDTHxHEIGHT:KB")
	f.BoolVar(&watchOpts.Detect, "detect", false, "Detect faces and draw their outlines into every rendition")
	f.Float64Var(&watchOpts.Margin, "margin", 0.2, "Extra space above each face outline, as a fraction of its height")
	f.BoolVar(&watchOpts.PNGOnly, "png-only", false, "Only pick up .png files")
	f.BoolVar(&watchOpts.Preview, "preview", false, "Also write {name}_faces.png, the original with face outlines")

	rootCmd.AddCommand(watchCmd)
}

// runWatch converts every new image in dir until ctx is cancelled.
func runWatch(ctx context.Context, opts Options, dir string, stderr io.Writer) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	profiles, err := selectProfiles(opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return err
	}

	proc, err := newProcessor(opts, profiles, nil)
	if err != nil {
		return err
	}

	// One detector serves the whole session.
	det, err := detectorFactory(opts)(ctx, 0)
	if err != nil {
		utils.ShowError("Detector startup failed", err)
		return err
	}
	defer det.Close()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := newDirWatcher(proc, det, opts, stderr)
	fmt.Fprintf(stderr, "👀 Watching %s → %s (Ctrl+C to stop)\n", dir, opts.OutputDir)
	err = w.loop(ctx, fw.Events, fw.Errors)
	w.bar.Finish()
	fmt.Fprintf(stderr, "\n🏁 Watch stopped. Converted %d images.\n", w.converted)
	return err
}

// detectorFactory returns the Python detector when outlines are drawn anywhere.
func detectorFactory(opts Options) detector.Factory {
	if opts.Detect || opts.Preview {
		return workerFactory()
	}
	return detector.NoopFactory
}

// dirWatcher turns filesystem events into single-image conversions.
type dirWatcher struct {
	proc     *batch.Processor
	det      detector.Detector
	outDir   string
	exts     []string
	debounce time.Duration
	out      io.Writer
	bar      *progressbar.ProgressBar

	// seen holds IDs (path, size, mtime) already converted.
	seen      map[string]bool
	converted int
}

func newDirWatcher(proc *batch.Processor, det detector.Detector, opts Options, out io.Writer) *dirWatcher {
	exts := utils.DefaultExtensions
	if opts.PNGOnly {
		exts = []string{".png"}
	}
	return &dirWatcher{
		proc:     proc,
		det:      det,
		outDir:   opts.OutputDir,
		exts:     exts,
		debounce: watchDebounce,
		out:      out,
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("👀 Converted"),
			progressbar.OptionSetWriter(out),
			progressbar.OptionShowCount(),
		),
		seen: make(map[string]bool),
	}
}

// loop debounces events per path and converts each file once it has been
// quiet for the debounce period. Conversions run on the loop goroutine, one
// at a time.
func (w *dirWatcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	pending := make(map[string]*time.Timer)
	ready := make(chan string)
	done := make(chan struct{})
	defer close(done)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := event.Name
			// Previews land next to their sources when watching the output dir.
			if strings.HasPrefix(filepath.Base(name), ".") || utils.IsPreviewName(name) || !utils.HasExtension(name, w.exts) {
				continue
			}
			if t, exists := pending[name]; exists {
				t.Reset(w.debounce)
				continue
			}
			pending[name] = time.AfterFunc(w.debounce, func() {
				select {
				case ready <- name:
				case <-done:
				}
			})

		case name := <-ready:
			delete(pending, name)
			w.convert(ctx, name)

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			Log.Warn("watcher error", zap.Error(err))
		}
	}
}

// convert renders one file unless the same version was already converted.
func (w *dirWatcher) convert(ctx context.Context, path string) {
	id, err := utils.GenerateImageID(path)
	if err != nil {
		// Removed or renamed before it settled.
		Log.Debug("skipping vanished file", zap.String("path", path), zap.Error(err))
		return
	}
	if w.seen[id] {
		Log.Debug("already converted", zap.String("path", path))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(w.out, "\n❌ %s: %v\n", filepath.Base(path), err)
		return
	}

	o := w.proc.ProcessImage(ctx, w.det, types.ImageTask{ID: id, Name: filepath.Base(path), Data: data})
	o.Base = utils.BaseName(path)
	w.seen[id] = true

	if err := writeOutcome(w.outDir, &o); err != nil {
		fmt.Fprintf(w.out, "\n❌ %s: %v\n", o.Name, err)
		return
	}
	if !o.OK() {
		fmt.Fprintln(w.out)
		printFailure(w.out, o.Name, o.Error())
		return
	}
	for _, r := range o.Renditions.Warnings() {
		fmt.Fprintf(w.out, "\n⚠️  %s: %v\n", o.Name, r.Warning)
	}
	w.converted++
	w.bar.Add(1)
}
