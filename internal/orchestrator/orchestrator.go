// Package orchestrator runs the reconstruction worker: it consumes raw frames
// from the ring, reconstructs them with the current calibration and
// parameters, keeps the alignment sequence and hands the images to a display
// sink.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"octrecon/internal/logging"
	"octrecon/internal/metrics"
	"octrecon/internal/models"
	"octrecon/internal/ringbuf"
	"octrecon/pkg/calibration"
	"octrecon/pkg/reconstruction"
	"octrecon/pkg/visualization"
)

// ErrStopped is returned when a frame is loaded after Stop.
var ErrStopped = errors.New("orchestrator stopped")

// SourceMode tells where frames come from.
type SourceMode int32

const (
	// FileReplay loads frames from a capture file on request.
	FileReplay SourceMode = iota
	// HardwareAcquisition streams frames from the digitizer.
	HardwareAcquisition
)

func (m SourceMode) String() string {
	switch m {
	case FileReplay:
		return "file_replay"
	case HardwareAcquisition:
		return "hardware_acquisition"
	default:
		return fmt.Sprintf("SourceMode(%d)", int(m))
	}
}

// DisplaySink receives every reconstructed frame.
type DisplaySink interface {
	Show(res models.FrameResult) error
}

// FrameSource gives random access to recorded frames.
type FrameSource interface {
	Read(i int, frame *models.RawFrame) error
}

// Options configures an Orchestrator.
type Options struct {
	Reconstructor *reconstruction.Reconstructor
	Sink          DisplaySink

	// RadialView enables the polar view in every FrameResult.
	RadialView bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Orchestrator owns the sequence state and the reconstruction worker.
type Orchestrator struct {
	ring    *ringbuf.Ring[models.RawFrame]
	recon   *reconstruction.Reconstructor
	sink    DisplaySink
	radial  bool
	metrics *metrics.Metrics
	logger  *slog.Logger

	calib      atomic.Pointer[calibration.Calibration]
	params     atomic.Pointer[models.ReconstructionParams]
	mode       atomic.Int32
	generation atomic.Uint64
	processed  atomic.Uint64
	running    atomic.Bool

	// owned by the worker
	state     *reconstruction.SequenceState
	applied   uint64
	lastStats ringbuf.Stats

	loadMu  sync.Mutex
	scratch models.RawFrame
}

// New creates an orchestrator consuming from ring. It starts in FileReplay
// mode with default parameters and no calibration.
func New(ring *ringbuf.Ring[models.RawFrame], opts Options) *Orchestrator {
	o := &Orchestrator{
		ring:    ring,
		recon:   opts.Reconstructor,
		sink:    opts.Sink,
		radial:  opts.RadialView,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		state:   reconstruction.NewSequenceState(),
	}
	if o.logger == nil {
		o.logger = logging.ForModule("orchestrator")
	}
	if o.recon == nil {
		o.recon = reconstruction.NewReconstructor(reconstruction.Options{Logger: o.logger})
	}
	params := models.DefaultReconstructionParams()
	o.params.Store(&params)
	o.ring.SetPolicy(o.Policy())
	return o
}

// SetLiveMode switches between live acquisition, where only the freshest
// frame is reconstructed, and file replay, where every frame is. The
// sequence restarts either way.
func (o *Orchestrator) SetLiveMode(live bool) {
	mode := FileReplay
	if live {
		mode = HardwareAcquisition
	}
	o.mode.Store(int32(mode))
	o.ring.SetPolicy(o.Policy())
	o.ResetSequence()
	o.logger.Info("source mode changed", "mode", mode, "policy", o.Policy())
}

// Mode returns the current source mode.
func (o *Orchestrator) Mode() SourceMode {
	return SourceMode(o.mode.Load())
}

// Policy returns the ring wait policy of the current mode.
func (o *Orchestrator) Policy() ringbuf.WaitPolicy {
	if o.Mode() == HardwareAcquisition {
		return ringbuf.Live
	}
	return ringbuf.Blocking
}

// SetCalibration publishes a new calibration and restarts the sequence.
func (o *Orchestrator) SetCalibration(c *calibration.Calibration) {
	o.calib.Store(c)
	o.ResetSequence()
	if c != nil {
		o.logger.Info("calibration loaded", "source", c.Source(), "a_line_size", c.ALineSize())
	}
}

// Calibration returns the current calibration, or nil.
func (o *Orchestrator) Calibration() *calibration.Calibration {
	return o.calib.Load()
}

// SetParams publishes new reconstruction parameters for the next frame.
func (o *Orchestrator) SetParams(p models.ReconstructionParams) {
	o.params.Store(&p)
}

// Params returns the current reconstruction parameters.
func (o *Orchestrator) Params() models.ReconstructionParams {
	return *o.params.Load()
}

// ResetSequence makes the worker drop the previous frame before it
// reconstructs the next one.
func (o *Orchestrator) ResetSequence() {
	o.generation.Add(1)
}

// Prepare sizes every ring record for frames of samplesPerFrame samples.
// Neither producers nor Run may be active.
func (o *Orchestrator) Prepare(samplesPerFrame int) {
	o.ring.ForEach(func(f *models.RawFrame) {
		f.Resize(samplesPerFrame)
	})
}

// LoadFrame reads frame i from src and queues it for reconstruction, waiting
// for a free slot.
func (o *Orchestrator) LoadFrame(src FrameSource, i int) error {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()

	if err := src.Read(i, &o.scratch); err != nil {
		return fmt.Errorf("loading frame %d: %w", i, err)
	}

	ok := o.ring.Produce(func(f *models.RawFrame) {
		f.Index = o.scratch.Index
		f.Resize(len(o.scratch.Samples))
		copy(f.Samples, o.scratch.Samples)
	})
	if !ok {
		return ErrStopped
	}
	return nil
}

// Run reconstructs frames until Stop is called or ctx is done, then returns.
// Frames queued before the stop are still processed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator already running")
	}
	defer o.running.Store(false)

	stop := context.AfterFunc(ctx, o.ring.Quit)
	defer stop()

	o.logger.Info("reconstruction worker started", "mode", o.Mode())
	for o.ring.Consume(o.process) {
	}
	o.recordRingStats()
	o.logger.Info("reconstruction worker stopped", "processed", o.processed.Load())
	return nil
}

// Stop shuts the ring down, which ends Run once the backlog is drained.
func (o *Orchestrator) Stop() {
	o.ring.Quit()
}

// Processed returns the number of frames handed to the sink.
func (o *Orchestrator) Processed() uint64 {
	return o.processed.Load()
}

func (o *Orchestrator) process(frame *models.RawFrame) {
	defer o.recordRingStats()

	if gen := o.generation.Load(); gen != o.applied {
		o.state.Reset()
		o.applied = gen
		o.metrics.RecordSequenceReset()
		o.logger.Debug("sequence reset", "sequence", o.state.ID())
	}

	calib := o.calib.Load()
	if calib == nil {
		o.metrics.RecordReconstructionError("no_calibration")
		o.logger.Warn("no calibration loaded, skipping frame", "index", frame.Index)
		return
	}
	params := o.Params()
	policy := o.Policy()

	start := time.Now()
	img, err := o.recon.Reconstruct(calib, frame, params, o.state)
	if err != nil {
		o.metrics.RecordReconstructionError(errorReason(err))
		o.logger.Error("reconstruction failed", "index", frame.Index, "error", err)
		return
	}

	res := models.FrameResult{
		Index:    frame.Index,
		Sequence: o.state.ID(),
		BScan:    img,
		Shift:    o.state.LastShift(),
	}
	if o.radial {
		res.Radial = visualization.ToRadialView(img, params.RadialPadTop)
	}
	res.Elapsed = time.Since(start)

	o.metrics.RecordReconstruction(policy.String(), res.Elapsed.Seconds())
	o.metrics.SetAlignmentShift(res.Shift)

	if o.sink != nil {
		if err := o.sink.Show(res); err != nil {
			o.logger.Error("display failed", "index", frame.Index, "error", err)
		}
	}
	o.processed.Add(1)
}

func (o *Orchestrator) recordRingStats() {
	s := o.ring.Stats()
	o.metrics.RecordRingStats(
		s.Produced-o.lastStats.Produced,
		s.Consumed-o.lastStats.Consumed,
		s.Dropped-o.lastStats.Dropped)
	o.lastStats = s
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, reconstruction.ErrSampleCount):
		return "sample_count"
	case errors.Is(err, reconstruction.ErrImageDepth):
		return "image_depth"
	case errors.Is(err, reconstruction.ErrNoCalibration):
		return "no_calibration"
	default:
		return "other"
	}
}
