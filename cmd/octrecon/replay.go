package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"octrecon/internal/capture"
	"octrecon/internal/logging"
	"octrecon/internal/models"
	"octrecon/internal/orchestrator"
	"octrecon/internal/ringbuf"
	"octrecon/pkg/calibration"
	"octrecon/pkg/reconstruction"
)

func replayCommand(a *app) *cobra.Command {
	var (
		lines    int
		from, to int
	)

	cmd := &cobra.Command{
		Use:   "replay <capture.bin>",
		Short: "Reconstruct every frame of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.replay(cmd.Context(), args[0], lines, from, to)
		},
	}

	cmd.Flags().IntVar(&lines, "lines", 0, "A-lines per frame (default: from the file name)")
	cmd.Flags().IntVar(&from, "from", 0, "First frame to reconstruct")
	cmd.Flags().IntVar(&to, "to", -1, "Frame after the last one to reconstruct (default: end of file)")
	return cmd
}

func (a *app) replay(ctx context.Context, path string, lines, from, to int) error {
	logger := logging.ForModule("replay")
	cfg := a.cfg

	calib, err := calibration.LoadDir(cfg.Calibration.Dir, cfg.Acquisition.ALineSize)
	if err != nil {
		return err
	}

	reader, err := capture.Open(path, cfg.Acquisition.ALineSize, lines)
	if err != nil {
		return err
	}
	defer reader.Close()

	if to < 0 || to > reader.Frames() {
		to = reader.Frames()
	}
	if from < 0 || from > to {
		return fmt.Errorf("invalid frame range [%d, %d) of %d frames", from, to, reader.Frames())
	}

	ring, err := ringbuf.New[models.RawFrame](cfg.Buffer.Capacity, nil)
	if err != nil {
		return err
	}
	m, err := a.newMetrics()
	if err != nil {
		return err
	}
	sink, err := a.displaySink()
	if err != nil {
		return err
	}

	orch := orchestrator.New(ring, orchestrator.Options{
		Reconstructor: reconstruction.NewReconstructor(reconstruction.Options{
			Oversampling: cfg.Reconstruction.Oversampling,
		}),
		Sink:       sink,
		RadialView: cfg.Reconstruction.RadialView,
		Metrics:    m,
	})
	orch.SetCalibration(calib)
	orch.SetParams(cfg.ReconstructionParams())
	orch.SetLiveMode(false)
	orch.Prepare(reader.SamplesPerFrame())

	logger.Info("replaying capture",
		"file", path,
		"sequence", reader.Seq(),
		"frames", reader.Frames(),
		"from", from,
		"to", to)

	err = a.supervise(ctx, m,
		orch.Run,
		func(ctx context.Context) error {
			defer orch.Stop()
			for i := from; i < to; i++ {
				if err := orch.LoadFrame(reader, i); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
			return nil
		})
	logger.Info("replay finished", "processed", orch.Processed())
	return err
}
