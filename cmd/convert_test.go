package cmd

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/rendition/internal/config"
	"github.com/andresmejia3/rendition/internal/detector"
	"github.com/andresmejia3/rendition/internal/logging"
	"github.com/andresmejia3/rendition/internal/profile"
	"github.com/andresmejia3/rendition/internal/types"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTestConfig installs a small catalog so tests encode tiny images.
func useTestConfig(t *testing.T) {
	t.Helper()
	prevCfg, prevLog, prevFactory := Cfg, Log, workerFactory
	t.Cleanup(func() { Cfg, Log, workerFactory = prevCfg, prevLog, prevFactory })

	Cfg = config.Default()
	Cfg.Profiles = []profile.Profile{
		{Name: "small", Width: 120, Height: 90, MaxKB: 50},
		{Name: "wide", Width: 160, Height: 40, MaxKB: 50},
	}
	Cfg.Archive.Profiles = []string{"wide"}
	Log = logging.Nop()
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func testOptions(out string) Options {
	return Options{
		OutputDir:   out,
		Margin:      0.2,
		NumEngines:  2,
		ZipProfiles: []string{"wide"},
	}
}

func TestRunConvert(t *testing.T) {
	useTestConfig(t)
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "renditions")

	writePNG(t, filepath.Join(in, "alpha.png"), 400, 300)
	writePNG(t, filepath.Join(in, "nested", "beta.png"), 320, 240)
	require.NoError(t, os.WriteFile(filepath.Join(in, "broken.jpg"), []byte("not a jpeg"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip me"), 0644))

	opts := testOptions(out)
	opts.Zip = true
	opts.ReportPath = filepath.Join(out, "report.json")

	var stderr bytes.Buffer
	require.NoError(t, runConvert(context.Background(), opts, []string{in}, &stderr))

	for _, name := range []string{"alpha_small.webp", "alpha_wide.webp", "beta_small.webp", "beta_wide.webp"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	assert.NoFileExists(t, filepath.Join(out, "broken_small.webp"))
	assert.NoFileExists(t, filepath.Join(out, "alpha_faces.png"))

	zr, err := zip.OpenReader(filepath.Join(out, "processed_images.zip"))
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"alpha_wide.webp", "beta_wide.webp"}, names)

	report, err := os.ReadFile(opts.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), `"succeeded": 2`)
	assert.Contains(t, string(report), "broken.jpg")

	log := stderr.String()
	assert.Contains(t, log, "❌ broken.jpg")
	assert.Contains(t, log, "Processed 2 of 3 files")
}

func TestRunConvertStrict(t *testing.T) {
	useTestConfig(t)
	in := t.TempDir()
	writePNG(t, filepath.Join(in, "ok.png"), 400, 300)
	require.NoError(t, os.WriteFile(filepath.Join(in, "bad.png"), []byte("nope"), 0644))

	opts := testOptions(t.TempDir())
	opts.Strict = true
	err := runConvert(context.Background(), opts, []string{in}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "1 of 2 images failed")
}

func TestRunConvertNoZipWhenNothingSucceeded(t *testing.T) {
	useTestConfig(t)
	in := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "bad.png"), []byte("nope"), 0644))

	out := t.TempDir()
	opts := testOptions(out)
	opts.Zip = true
	require.NoError(t, runConvert(context.Background(), opts, []string{in}, &bytes.Buffer{}))
	assert.NoFileExists(t, filepath.Join(out, "processed_images.zip"))
}

func TestRunConvertPNGOnlyAndEmpty(t *testing.T) {
	useTestConfig(t)
	in := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "photo.jpg"), []byte("jpeg"), 0644))

	opts := testOptions(t.TempDir())
	opts.PNGOnly = true
	err := runConvert(context.Background(), opts, []string{in}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no images found")
}

func TestRunConvertCustomProfile(t *testing.T) {
	useTestConfig(t)
	in := t.TempDir()
	writePNG(t, filepath.Join(in, "cat.png"), 800, 600)

	out := t.TempDir()
	opts := testOptions(out)
	opts.Custom = "200x200:60"
	opts.Zip = true
	require.NoError(t, runConvert(context.Background(), opts, []string{in}, &bytes.Buffer{}))

	assert.FileExists(t, filepath.Join(out, "cat_custom.webp"))
	assert.NoFileExists(t, filepath.Join(out, "cat_small.webp"))
	// The archive falls back to what was rendered.
	zr, err := zip.OpenReader(filepath.Join(out, "processed_images.zip"))
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, "cat_custom.webp", zr.File[0].Name)
}

func TestRunConvertDetectorStartupFails(t *testing.T) {
	useTestConfig(t)
	boom := errors.New("python3: executable file not found")
	workerFactory = func() detector.Factory {
		return func(context.Context, int) (detector.Detector, error) { return nil, boom }
	}

	in := t.TempDir()
	writePNG(t, filepath.Join(in, "face.png"), 400, 300)
	opts := testOptions(t.TempDir())
	opts.Detect = true

	err := runConvert(context.Background(), opts, []string{in}, &bytes.Buffer{})
	assert.ErrorIs(t, err, boom)
}

func TestRunConvertBurnsInAndPreviews(t *testing.T) {
	useTestConfig(t)
	workerFactory = func() detector.Factory {
		return func(context.Context, int) (detector.Detector, error) {
			return detector.Static{{X1: 50, Y1: 50, X2: 150, Y2: 150, Confidence: 0.99}}, nil
		}
	}

	in := t.TempDir()
	writePNG(t, filepath.Join(in, "face.png"), 400, 300)
	out := t.TempDir()
	opts := testOptions(out)
	opts.Detect = true
	opts.Preview = true
	require.NoError(t, runConvert(context.Background(), opts, []string{in}, &bytes.Buffer{}))

	f, err := os.Open(filepath.Join(out, "face_faces.png"))
	require.NoError(t, err)
	defer f.Close()
	preview, err := png.Decode(f)
	require.NoError(t, err)
	r, g, b, _ := preview.At(50, 50).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
}

func TestSelectProfiles(t *testing.T) {
	useTestConfig(t)

	ps, err := selectProfiles(Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"small", "wide"}, profile.Names(ps))

	ps, err = selectProfiles(Options{Profiles: []string{"wide"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"wide"}, profile.Names(ps))

	_, err = selectProfiles(Options{Profiles: []string{"poster"}})
	assert.Error(t, err)

	ps, err = selectProfiles(Options{Custom: "800x600:100", Profiles: []string{"wide"}})
	require.NoError(t, err)
	assert.Equal(t, profile.Profile{Name: "custom", Width: 800, Height: 600, MaxKB: 100}, ps[0])

	_, err = selectProfiles(Options{Custom: "50x50:10"})
	assert.Error(t, err)
}

func TestArchiveProfiles(t *testing.T) {
	rendered := []profile.Profile{profile.Thumbnail, profile.Banner}
	assert.Equal(t, []string{"banner"}, archiveProfiles([]string{"banner", "photo", "banner"}, rendered))
	assert.Equal(t, []string{"thumbnail", "banner"}, archiveProfiles([]string{"photo"}, rendered))
}

func TestListProfiles(t *testing.T) {
	var buf bytes.Buffer
	listProfiles(&buf, profile.Catalog(), []string{"banner"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"NAME", "WIDTH", "HEIGHT", "MAX", "KB", "ZIP"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"thumbnail", "600", "400", "50"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"banner", "1200", "500", "100", "yes"}, strings.Fields(lines[3]))
}

func TestRunClean(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_banner.webp"), []byte("x"), 0644))

	var out bytes.Buffer
	require.NoError(t, runClean(strings.NewReader("n\n"), &out, dir, false))
	assert.DirExists(t, dir)
	assert.Contains(t, out.String(), "Aborted")

	require.NoError(t, runClean(strings.NewReader("y\n"), &out, dir, false))
	assert.NoDirExists(t, dir)

	out.Reset()
	require.NoError(t, runClean(strings.NewReader(""), &out, dir, true))
	assert.Contains(t, out.String(), "Nothing to clean")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"\n", false},
		{"no\n", false},
		{"", false},
	}
	for _, tt := range tests {
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &bytes.Buffer{}, "Delete?")
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWatchLoop(t *testing.T) {
	useTestConfig(t)
	in := t.TempDir()
	out := t.TempDir()
	opts := testOptions(out)

	proc, err := newProcessor(opts, Cfg.Catalog(), nil)
	require.NoError(t, err)
	w := newDirWatcher(proc, detector.Noop{}, opts, &bytes.Buffer{})
	w.debounce = 20 * time.Millisecond

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.loop(ctx, events, errs) }()

	photo := filepath.Join(in, "photo.png")
	writePNG(t, photo, 400, 300)
	require.NoError(t, os.WriteFile(filepath.Join(in, ".tmp.png"), []byte("partial"), 0644))
	preview := filepath.Join(in, "photo_faces.png")
	writePNG(t, preview, 400, 300)

	events <- fsnotify.Event{Name: photo, Op: fsnotify.Create}
	events <- fsnotify.Event{Name: photo, Op: fsnotify.Write}
	events <- fsnotify.Event{Name: filepath.Join(in, ".tmp.png"), Op: fsnotify.Create}
	events <- fsnotify.Event{Name: filepath.Join(in, "notes.txt"), Op: fsnotify.Create}
	events <- fsnotify.Event{Name: preview, Op: fsnotify.Create}

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(out, "photo_wide.webp"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// An unchanged file is not converted twice.
	events <- fsnotify.Event{Name: photo, Op: fsnotify.Write}
	time.Sleep(100 * time.Millisecond)
	errs <- errors.New("queue overflow")

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, w.converted)
	assert.NoFileExists(t, filepath.Join(out, ".tmp_small.webp"))
	assert.NoFileExists(t, filepath.Join(out, "photo_faces_wide.webp"))
}

func TestRunWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping filesystem watch test in short mode")
	}
	useTestConfig(t)
	in := t.TempDir()
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, testOptions(out), in, &bytes.Buffer{}) }()

	// Give the watcher time to register before the file lands.
	time.Sleep(200 * time.Millisecond)
	writePNG(t, filepath.Join(in, "late.png"), 400, 300)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(out, "late_small.webp"))
		return err == nil
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunWatchRejectsFile(t *testing.T) {
	useTestConfig(t)
	file := filepath.Join(t.TempDir(), "x.png")
	writePNG(t, file, 10, 10)
	err := runWatch(context.Background(), testOptions(t.TempDir()), file, &bytes.Buffer{})
	assert.ErrorContains(t, err, "not a directory")
}

func TestPrintFailureShowsEngineLogs(t *testing.T) {
	var buf bytes.Buffer
	err := fmt.Errorf("detect: %w", &types.EngineError{
		Worker: 2,
		Err:    errors.New("EOF"),
		Logs:   "Traceback (most recent call last):\nModuleNotFoundError: No module named 'torch'",
	})

	printFailure(&buf, "cat.jpg", err)

	out := buf.String()
	assert.Contains(t, out, "❌ cat.jpg: detect: worker 2: EOF")
	assert.Contains(t, out, "│ ModuleNotFoundError: No module named 'torch'")

	buf.Reset()
	printFailure(&buf, "dog.jpg", errors.New("decode dog.jpg: bad header"))
	assert.NotContains(t, buf.String(), "│")
}
