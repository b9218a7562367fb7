package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/rendition/internal/detector"
	"github.com/andresmejia3/rendition/internal/encoder"
	"github.com/andresmejia3/rendition/internal/geometry"
	"github.com/andresmejia3/rendition/internal/highlight"
	"github.com/andresmejia3/rendition/internal/logging"
	"github.com/andresmejia3/rendition/internal/profile"
	"github.com/andresmejia3/rendition/internal/types"
	"go.uber.org/zap"
)

// Input is one source image. Read is called once, by the worker that
// processes it, so large batches are not held in memory up front.
type Input struct {
	ID   string
	Name string
	Read func() ([]byte, error)
}

// FileInput reads an image from disk. The path is the input ID.
func FileInput(path string) Input {
	return Input{
		ID:   path,
		Name: filepath.Base(path),
		Read: func() ([]byte, error) { return os.ReadFile(path) },
	}
}

// BytesInput wraps already loaded bytes.
func BytesInput(id, name string, data []byte) Input {
	return Input{ID: id, Name: name, Read: func() ([]byte, error) { return data, nil }}
}

// Options configures a Processor.
type Options struct {
	Profiles []profile.Profile
	// Workers bounds the number of images processed at once. 0 means one per CPU.
	Workers int
	// Detector creates one detector per worker. Nil disables detection.
	Detector detector.Factory
	Margin   float64
	// BurnIn renders profiles from the highlighted image instead of the original.
	BurnIn bool
	// Preview attaches the highlighted original as PNG to each outcome.
	Preview bool
	Encoder encoder.Encoder
	Logger  *zap.Logger
	// OnOutcome is called from the aggregator, in input order, as each
	// outcome is finalized.
	OnOutcome func(o *Outcome, done, total int)
}

// Processor runs the per-image pipeline. It holds no per-run state and may
// run several batches in sequence.
type Processor struct {
	opts Options
	log  *zap.Logger
}

// New validates opts and fills defaults.
func New(opts Options) (*Processor, error) {
	if len(opts.Profiles) == 0 {
		return nil, errors.New("no output profiles selected")
	}
	if err := profile.ValidateSet(opts.Profiles); err != nil {
		return nil, err
	}
	if opts.Margin < 0 {
		return nil, fmt.Errorf("margin must be >= 0, got %v", opts.Margin)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Detector == nil {
		opts.Detector = detector.NoopFactory
	}
	if opts.Encoder == nil {
		opts.Encoder = encoder.WebP{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Processor{opts: opts, log: opts.Logger}, nil
}

// result wraps the output from a worker to be sent to the aggregator
type result struct {
	Index   int
	Outcome Outcome
}

// Run processes every input and returns the finished run. Image failures are
// recorded on their outcomes and never stop the batch. A detector that cannot
// start aborts the run with that error. Cancelling ctx stops dispatch; inputs
// not yet processed carry ctx.Err() and Run returns it alongside the partial run.
func (p *Processor) Run(ctx context.Context, inputs []Input) (*Run, error) {
	run := newRun(p.opts.Profiles, inputs)
	run.StartedAt = time.Now()
	run.setStatus(StatusRunning)
	defer func() { run.Elapsed = time.Since(run.StartedAt) }()

	log := p.log.With(zap.String("run", run.ID))
	log.Info("batch started", zap.Int("images", len(inputs)), zap.Strings("profiles", profile.Names(p.opts.Profiles)))

	if len(inputs) == 0 {
		run.setStatus(StatusCompleted)
		return run, nil
	}

	workers := min(p.opts.Workers, len(inputs))

	// Workers stop early when a detector fails to start.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	tasks := make(chan types.ImageTask, workers)
	results := make(chan result, workers*2)
	var wg sync.WaitGroup

	aggDone := make(chan struct{})
	go func() {
		p.aggregate(run, results)
		close(aggDone)
	}()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.work(ctx, cancel, workerID, tasks, results, inputs)
		}(i)
	}

	sent := 0
dispatch:
	for i, in := range inputs {
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- types.ImageTask{Index: i, ID: in.ID, Name: in.Name}:
			sent++
		}
	}
	close(tasks)
	wg.Wait()

	// Inputs never dispatched still get an outcome so every index is filled.
	for i := sent; i < len(inputs); i++ {
		results <- result{Index: i, Outcome: Outcome{Index: i, ID: inputs[i].ID, Name: inputs[i].Name, Err: context.Cause(ctx)}}
	}
	close(results)
	<-aggDone

	var startErr *startError
	switch err := context.Cause(ctx); {
	case errors.As(err, &startErr):
		run.setStatus(StatusAborted)
		log.Error("batch aborted", zap.Error(startErr.Err))
		return run, startErr.Err
	case err != nil:
		run.setStatus(StatusCancelled)
		log.Warn("batch cancelled", zap.Error(err))
		return run, err
	}

	run.setStatus(StatusCompleted)
	log.Info("batch finished",
		zap.Int("succeeded", run.Succeeded()),
		zap.Int("total", run.Total()),
		zap.Duration("elapsed", time.Since(run.StartedAt)))
	return run, nil
}

// startError marks a detector that could not be created.
type startError struct {
	Worker int
	Err    error
}

func (e *startError) Error() string { return fmt.Sprintf("worker %d: %v", e.Worker, e.Err) }

// work owns one detector for its whole lifetime and processes tasks until the
// channel closes. Every received task produces exactly one result.
func (p *Processor) work(ctx context.Context, abort context.CancelCauseFunc, id int, tasks <-chan types.ImageTask, results chan<- result, inputs []Input) {
	det, err := p.opts.Detector(ctx, id)
	if err != nil {
		abort(&startError{Worker: id, Err: fmt.Errorf("detector startup failed: %w", err)})
		for task := range tasks {
			results <- result{Index: task.Index, Outcome: Outcome{Index: task.Index, ID: task.ID, Name: task.Name, Err: context.Cause(ctx)}}
		}
		return
	}
	defer det.Close()

	for task := range tasks {
		if ctx.Err() != nil {
			results <- result{Index: task.Index, Outcome: Outcome{Index: task.Index, ID: task.ID, Name: task.Name, Err: context.Cause(ctx)}}
			continue
		}
		data, err := inputs[task.Index].Read()
		if err != nil {
			results <- result{Index: task.Index, Outcome: Outcome{Index: task.Index, ID: task.ID, Name: task.Name, Err: fmt.Errorf("read: %w", err)}}
			continue
		}
		task.Data = data
		results <- result{Index: task.Index, Outcome: p.ProcessImage(ctx, det, task)}
	}
}

// aggregate records outcomes and reports them in input order. Worker 2 might
// finish before worker 1, so results are buffered until their turn.
func (p *Processor) aggregate(run *Run, results <-chan result) {
	buffer := make(map[int]result)
	next := 0
	total := run.Total()

	for res := range results {
		buffer[res.Index] = res
		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			o := run.record(r.Outcome)
			next++
			if p.opts.OnOutcome != nil {
				p.opts.OnOutcome(o, next, total)
			}
		}
	}

	// A gap would mean a lost result; flush whatever remains in index order.
	if len(buffer) > 0 {
		idx := make([]int, 0, len(buffer))
		for i := range buffer {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			o := run.record(buffer[i].Outcome)
			next++
			if p.opts.OnOutcome != nil {
				p.opts.OnOutcome(o, next, total)
			}
		}
	}
}

// ProcessImage runs the full pipeline for one image: decode, detect,
// highlight, then every profile. It never panics on bad input; failures are
// recorded on the returned Outcome.
func (p *Processor) ProcessImage(ctx context.Context, det detector.Detector, task types.ImageTask) (out Outcome) {
	start := time.Now()
	out = Outcome{Index: task.Index, ID: task.ID, Name: task.Name}
	log := p.log.With(zap.String("image", task.Name))
	defer func() { out.Elapsed = time.Since(start) }()

	// Check the header first so a huge or extreme source is never allocated.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(task.Data))
	if err == nil {
		err = geometry.CheckSource(cfg.Width, cfg.Height)
	}
	if err != nil {
		out.Err = &types.DecodeError{Name: task.Name, Err: err}
		log.Error("decode failed", zap.Error(err))
		return out
	}

	src, _, err := image.Decode(bytes.NewReader(task.Data))
	if err != nil {
		out.Err = &types.DecodeError{Name: task.Name, Err: err}
		log.Error("decode failed", zap.Error(err))
		return out
	}
	b := src.Bounds()
	if b.Empty() {
		out.Err = &types.DecodeError{Name: task.Name, Err: types.ErrInvalidImage}
		log.Error("decode failed", zap.Error(out.Err))
		return out
	}
	img := geometry.ToNRGBA(src)
	out.Width, out.Height = b.Dx(), b.Dy()

	faces, err := det.Detect(ctx, img)
	if err != nil {
		out.Err = fmt.Errorf("detect: %w", err)
		fields := []zap.Field{zap.Error(err)}
		var engErr *types.EngineError
		if errors.As(err, &engErr) && engErr.Logs != "" {
			fields = append(fields, zap.String("engine_stderr", engErr.Logs))
		}
		log.Error("detection failed", fields...)
		return out
	}
	out.Faces = faces

	highlighted := highlight.Highlight(img, faces, p.opts.Margin)
	if p.opts.Preview {
		var buf bytes.Buffer
		if err := png.Encode(&buf, highlighted); err != nil {
			out.Err = fmt.Errorf("preview: %w", err)
			return out
		}
		out.Preview = buf.Bytes()
	}

	source := image.Image(img)
	if p.opts.BurnIn {
		source = highlighted
	}

	out.Renditions = profile.Process(ctx, source, p.opts.Profiles, p.opts.Encoder)
	for _, r := range out.Renditions {
		switch {
		case r.Err != nil:
			log.Error("profile failed", zap.String("profile", r.Name()), zap.Error(r.Err))
		case r.Warning != nil:
			log.Warn("size budget not met", zap.String("profile", r.Name()), zap.Int("bytes", len(r.Data)), zap.Int("quality", r.Quality))
		default:
			log.Debug("rendition encoded", zap.String("profile", r.Name()), zap.Int("quality", r.Quality), zap.Int("bytes", len(r.Data)))
		}
	}
	log.Debug("image processed", zap.Int("faces", len(faces)), zap.Duration("elapsed", time.Since(start)))
	return out
}
