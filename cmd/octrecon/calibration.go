package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"octrecon/pkg/calibration"
)

func calibrationCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibration",
		Short: "Inspect and archive calibration data",
	}

	checkCmd := &cobra.Command{
		Use:   "check [dir]",
		Short: "Load and validate a calibration directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calib, err := a.loadCalibration(args)
			if err != nil {
				return err
			}

			table := calib.Table()
			fmt.Fprintf(cmd.OutOrStdout(), "Calibration %s: %d samples, table maps sample 0 to %d and sample %d to %d\n",
				calib.Source(), calib.ALineSize(),
				table[0].SourceIndex, len(table)-2, table[len(table)-2].SourceIndex)
			return nil
		},
	}

	var root string
	snapshotCmd := &cobra.Command{
		Use:   "snapshot [dir]",
		Short: "Copy a calibration into a new timestamped directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calib, err := a.loadCalibration(args)
			if err != nil {
				return err
			}

			dest := calibration.SnapshotDir(root, time.Now())
			if err := calib.SaveDir(dest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Calibration saved to %s\n", dest)
			return nil
		},
	}
	snapshotCmd.Flags().StringVar(&root, "root", ".", "Directory receiving the snapshot")

	cmd.AddCommand(checkCmd, snapshotCmd)
	return cmd
}

func (a *app) loadCalibration(args []string) (*calibration.Calibration, error) {
	dir := a.cfg.Calibration.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	return calibration.LoadDir(dir, a.cfg.Acquisition.ALineSize)
}
