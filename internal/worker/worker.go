package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/rendition/internal/detector"
	"github.com/andresmejia3/rendition/internal/types"
	"github.com/andresmejia3/rendition/internal/utils" // Using the SafeCommand wrapper
)

// Config controls how the Python detection engine is launched.
type Config struct {
	Python             string        // interpreter, e.g. "python3"
	Script             string        // path to the MTCNN worker script
	DetectionThreshold float64       // minimum face probability kept by the engine
	ReadTimeout        time.Duration // per-image deadline; zero disables it
}

// stderrTail bounds how much engine output is attached to an error.
const stderrTail = 4 << 10

// PythonWorker drives one long-lived MTCNN process. If the process is killed
// after a timeout or crashes, the next Detect starts a fresh one.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	ctx    context.Context // bounds every engine this worker starts
	cfg    Config
	dead   bool // the engine was stopped and must be restarted before use
	closed bool
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	w := &PythonWorker{ID: id, ReadTimeout: cfg.ReadTimeout, ctx: ctx, cfg: cfg}
	if err := w.start(); err != nil {
		return nil, err
	}
	return w, nil
}

// start launches the engine and wires its pipes.
func (w *PythonWorker) start() error {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(w.ctx, w.cfg.Python, "-u", w.cfg.Script,
		"--threshold", strconv.FormatFloat(w.cfg.DetectionThreshold, 'f', -1, 64))
	// Don't hang in Wait if a grandchild keeps stderr open.
	py.WaitDelay = time.Second

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, wr, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{wr}

	stdin, err := py.StdinPipe()
	if err != nil {
		wr.Close() // Prevent FD leak
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		wr.Close()
		r.Close()
		return fmt.Errorf("worker %d failed to start: %w", w.ID, err)
	}

	// Close the write-end in the parent so only the child holds it
	wr.Close()

	w.Cmd, w.Stdin, w.DataPipe = py, stdin, r
	w.dead = false
	return nil
}

// Factory starts one Python engine per pipeline worker.
func Factory(cfg Config) detector.Factory {
	return func(ctx context.Context, id int) (detector.Detector, error) {
		return NewPythonWorker(ctx, id, cfg)
	}
}

// Communicate sends one length-prefixed request and reads one length-prefixed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	return communicate(w.Stdin, w.DataPipe, data)
}

func communicate(stdin io.Writer, dataPipe io.Reader, data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(dataPipe, header); err != nil {
		return nil, err // This is where we catch an interpreter crash (e.g. missing torch)
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(dataPipe, respBody)
	return respBody, err
}

// ProcessImage sends encoded image bytes to the engine and decodes the boxes it found.
func (w *PythonWorker) ProcessImage(data []byte) ([]types.BoundingBox, error) {
	resp, err := w.Communicate(data)
	if err != nil {
		return nil, err
	}
	return parseDetections(resp)
}

// Detect implements detector.Detector. The image is shipped as PNG so the
// engine sees exactly the pixels the pipeline will highlight.
//
// A transport failure or timeout stops the engine and returns a
// *types.EngineError with its stderr; the next call restarts it.
func (w *PythonWorker) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	if w.closed {
		return nil, fmt.Errorf("worker %d is closed", w.ID)
	}
	if w.dead {
		if w.ctx == nil {
			return nil, &types.EngineError{Worker: w.ID, Err: errors.New("engine stopped")}
		}
		if err := w.start(); err != nil {
			return nil, &types.EngineError{Worker: w.ID, Err: fmt.Errorf("restart: %w", err)}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame for worker %d: %w", w.ID, err)
	}

	type reply struct {
		resp []byte
		err  error
	}
	// The goroutine keeps its own pipes; a restart swaps the fields under it.
	stdin, dataPipe := w.Stdin, w.DataPipe
	done := make(chan reply, 1)
	go func() {
		resp, err := communicate(stdin, dataPipe, buf.Bytes())
		done <- reply{resp, err}
	}()

	var timeout <-chan time.Time
	if w.ReadTimeout > 0 {
		timer := time.NewTimer(w.ReadTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			w.stop()
			return nil, w.engineError(r.err)
		}
		boxes, err := parseDetections(r.resp)
		if err != nil {
			return nil, err
		}
		// Boxes come back relative to the PNG, which starts at the origin.
		origin := img.Bounds().Min
		for i := range boxes {
			boxes[i].X1 += float64(origin.X)
			boxes[i].X2 += float64(origin.X)
			boxes[i].Y1 += float64(origin.Y)
			boxes[i].Y2 += float64(origin.Y)
		}
		return boxes, nil
	case <-timeout:
		w.stop()
		return nil, w.engineError(fmt.Errorf("timed out after %s", w.ReadTimeout))
	case <-ctx.Done():
		w.stop()
		return nil, ctx.Err()
	}
}

// stop kills the engine and reaps it. Closing the pipes unblocks a request
// still in flight.
func (w *PythonWorker) stop() {
	w.dead = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
		w.Cmd.Wait()
	}
}

// engineError wraps err with whatever the stopped engine wrote to stderr.
func (w *PythonWorker) engineError(err error) error {
	e := &types.EngineError{Worker: w.ID, Err: err}
	if w.Cmd != nil {
		e.Logs = w.Cmd.StderrTail(stderrTail)
	}
	return e
}

func (w *PythonWorker) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.dead {
		return nil
	}
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

// parseDetections decodes a reply body.
//
//	OK:    [Status:0] [NumFaces:u32] NumFaces * ([Box:4*f32 x1,y1,x2,y2] [Prob:f32])
//	Error: [Status:1] [MsgLen:u32] [Msg]
func parseDetections(resp []byte) ([]types.BoundingBox, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	if status != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		return nil, errors.New("python worker error: " + string(msg))
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("malformed face count: %w", err)
	}
	// Each face is 5 float32s; reject counts the body cannot hold.
	if int64(count)*20 > int64(r.Len()) {
		return nil, fmt.Errorf("worker reported %d faces in %d bytes", count, r.Len())
	}

	boxes := make([]types.BoundingBox, 0, count)
	for i := uint32(0); i < count; i++ {
		var face struct {
			Box  [4]float32
			Prob float32
		}
		if err := binary.Read(r, binary.BigEndian, &face); err != nil {
			return nil, fmt.Errorf("malformed face %d: %w", i, err)
		}
		if !finite(face.Box[:]) {
			continue
		}
		boxes = append(boxes, types.BoundingBox{
			X1:         float64(face.Box[0]),
			Y1:         float64(face.Box[1]),
			X2:         float64(face.Box[2]),
			Y2:         float64(face.Box[3]),
			Confidence: float64(face.Prob),
		})
	}
	return boxes, nil
}

func finite(vs []float32) bool {
	for _, v := range vs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
