package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"octrecon/internal/acquisition"
	"octrecon/internal/capture"
	"octrecon/internal/logging"
	"octrecon/internal/models"
	"octrecon/internal/orchestrator"
	"octrecon/internal/ringbuf"
	"octrecon/pkg/calibration"
	"octrecon/pkg/reconstruction"
)

func simulateCommand(a *app) *cobra.Command {
	var (
		frames   int
		identity bool
		failAt   int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run live acquisition and reconstruction against a simulated digitizer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("frames") {
				a.cfg.Acquisition.MaxFrames = frames
			}
			return a.simulate(cmd.Context(), identity, failAt)
		},
	}

	cmd.Flags().IntVar(&frames, "frames", 0, "Frames to acquire, 0 runs until interrupted (default: acquisition.maxFrames)")
	cmd.Flags().BoolVar(&identity, "identity-calibration", false, "Use an identity calibration instead of the calibration directory")
	cmd.Flags().IntVar(&failAt, "fail-after", 0, "Inject a buffer overflow after this many buffers")
	return cmd
}

func (a *app) simulate(ctx context.Context, identity bool, failAt int) error {
	logger := logging.ForModule("simulate")
	cfg := a.cfg
	acq := cfg.Acquisition

	calib, err := a.simulationCalibration(identity)
	if err != nil {
		return err
	}

	simCfg := acquisition.DefaultSimulatorConfig(acq.ALineSize, acq.LinesPerFrame)
	simCfg.FringeCycles = cfg.Simulator.FringeCycles
	simCfg.Noise = cfg.Simulator.Noise
	simCfg.DriftPerFrame = cfg.Simulator.DriftPerFrame
	simCfg.FrameInterval = cfg.Simulator.FrameInterval
	simCfg.Seed = time.Now().UnixNano()
	if failAt > 0 {
		simCfg.FailAfter = failAt
		simCfg.FailWith = acquisition.WaitOverflow
	}
	sim := acquisition.NewSimulator(simCfg)

	samples := acq.ALineSize * acq.LinesPerFrame
	ring, err := ringbuf.New(cfg.Buffer.Capacity, func(f *models.RawFrame) {
		f.Resize(samples)
	})
	if err != nil {
		return err
	}

	m, err := a.newMetrics()
	if err != nil {
		return err
	}

	var rawSink io.Writer
	if acq.SaveData {
		file, err := capture.Create(acq.SaveDir, time.Now(), acq.LinesPerFrame)
		if err != nil {
			return err
		}
		defer func() {
			if err := file.Close(); err != nil {
				logger.Error("closing capture file failed", "error", err)
			}
		}()
		logger.Info("saving raw data", "file", file.Path())
		rawSink = file
	}

	pool, err := acquisition.New(sim, ring, acquisition.Config{
		ALineSize:        acq.ALineSize,
		RecordsPerBuffer: acq.LinesPerFrame,
		BufferCount:      acq.PoolSize,
		Timeout:          acq.Timeout,
	}, acquisition.Options{Sink: rawSink, Metrics: m})
	if err != nil {
		return err
	}
	defer pool.Close()

	display, err := a.displaySink()
	if err != nil {
		return err
	}
	orch := orchestrator.New(ring, orchestrator.Options{
		Reconstructor: reconstruction.NewReconstructor(reconstruction.Options{
			Oversampling: cfg.Reconstruction.Oversampling,
		}),
		Sink:       display,
		RadialView: cfg.Reconstruction.RadialView,
		Metrics:    m,
	})
	orch.SetCalibration(calib)
	orch.SetParams(cfg.ReconstructionParams())
	orch.SetLiveMode(true)

	err = a.supervise(ctx, m,
		orch.Run,
		func(ctx context.Context) error {
			defer orch.Stop()
			err := pool.Run(ctx, acq.MaxFrames)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

	ringStats := ring.Stats()
	logger.Info("simulation finished",
		"buffers", pool.Stats().BuffersCompleted,
		"reconstructed", orch.Processed(),
		"dropped", ringStats.Dropped,
		"sink_errors", pool.Stats().SinkErrors)
	return err
}

// simulationCalibration loads the calibration directory, falling back to an
// identity calibration when there is none. Simulated fringes are already
// linear in k.
func (a *app) simulationCalibration(identity bool) (*calibration.Calibration, error) {
	n := a.cfg.Acquisition.ALineSize
	if identity {
		return calibration.Identity(n)
	}

	calib, err := calibration.LoadDir(a.cfg.Calibration.Dir, n)
	if errors.Is(err, fs.ErrNotExist) {
		logging.ForModule("simulate").Warn("no calibration directory, using identity calibration",
			"dir", a.cfg.Calibration.Dir)
		return calibration.Identity(n)
	}
	return calib, err
}
