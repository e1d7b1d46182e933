// Package reconstruction turns raw swept-source OCT fringes into 8-bit B-scan
// images.
//
// A frame is processed line by line (background subtraction, k-space
// linearization, Hamming window, real FFT, log compression) across a pool of
// goroutines, then corrected as a whole: oversampled sweeps are cropped to one
// revolution and resized, and consecutive frames of a sequence are rotated to
// line up with each other.
package reconstruction

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"

	"octrecon/internal/logging"
	"octrecon/internal/models"
	"octrecon/pkg/calibration"
)

var (
	// ErrNoCalibration is returned when Reconstruct is called without calibration.
	ErrNoCalibration = errors.New("no calibration loaded")

	// ErrSampleCount is returned when the frame is not a whole number of A-lines.
	ErrSampleCount = errors.New("sample count is not a multiple of the A-line size")

	// ErrImageDepth is returned when the requested depth exceeds the spectrum.
	ErrImageDepth = errors.New("image depth out of range")
)

// Options configures a Reconstructor.
type Options struct {
	// Oversampling lists the A-line counts that need distortion correction.
	// Nil selects DefaultOversampling.
	Oversampling []Oversampling

	// Logger receives debug output about the sequence corrections.
	Logger *slog.Logger
}

// Reconstructor runs the reconstruction pipeline. It holds no per-sequence
// state and is safe for concurrent use.
type Reconstructor struct {
	oversampling []Oversampling
	logger       *slog.Logger
	workspaces   sync.Pool
}

// NewReconstructor creates a new reconstructor instance.
func NewReconstructor(opts Options) *Reconstructor {
	r := &Reconstructor{
		oversampling: opts.Oversampling,
		logger:       opts.Logger,
	}
	if r.oversampling == nil {
		r.oversampling = DefaultOversampling()
	}
	if r.logger == nil {
		r.logger = logging.ForModule("reconstruction")
	}
	return r
}

// Reconstruct converts one raw frame into a B-scan with rows as depth and
// columns as A-lines.
//
// When state is non-nil the image is aligned to the previous frame of the
// sequence and becomes the new previous frame. Frames of one sequence must be
// passed in order. On error nothing, including state, is modified.
func (r *Reconstructor) Reconstruct(calib *calibration.Calibration, frame *models.RawFrame,
	params models.ReconstructionParams, state *SequenceState) (*image.Gray, error) {

	img, err := r.BScan(calib, frame, params)
	if err != nil {
		return nil, err
	}

	img = r.correctDistortion(img)

	if state != nil {
		img = state.align(img, r.logger)
	}
	return img, nil
}

// BScan runs the per-line pipeline only and assembles the image, without any
// sequence-level correction.
func (r *Reconstructor) BScan(calib *calibration.Calibration, frame *models.RawFrame,
	params models.ReconstructionParams) (*image.Gray, error) {

	if calib == nil {
		return nil, ErrNoCalibration
	}
	n := calib.ALineSize()
	if len(frame.Samples) == 0 || len(frame.Samples)%n != 0 {
		return nil, fmt.Errorf("%w: frame %d has %d samples, A-line size %d",
			ErrSampleCount, frame.Index, len(frame.Samples), n)
	}
	if params.ImageDepth < 1 || params.ImageDepth > models.MaxImageDepth(n) {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrImageDepth, params.ImageDepth, models.MaxImageDepth(n))
	}

	nLines := len(frame.Samples) / n
	img := image.NewGray(image.Rect(0, 0, nLines, params.ImageDepth))

	numWorkers := params.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > nLines {
		numWorkers = nLines
	}

	// Divide the lines among workers
	linesPerWorker := (nLines + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * linesPerWorker
		end := min(start+linesPerWorker, nLines)
		if start >= end {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()

			ws := r.getWorkspace(n)
			defer r.workspaces.Put(ws)

			for j := start; j < end; j++ {
				ws.processLine(frame.Samples[j*n:(j+1)*n], calib, params)
				ws.writeColumn(img, j)
			}
		}(start, end)
	}
	wg.Wait()

	return img, nil
}

func (r *Reconstructor) getWorkspace(n int) *lineWorkspace {
	if ws, ok := r.workspaces.Get().(*lineWorkspace); ok && ws.n == n {
		return ws
	}
	return newLineWorkspace(n)
}
