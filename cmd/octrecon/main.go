package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"octrecon/internal/logging"
	"octrecon/internal/metrics"
	"octrecon/internal/models"
	"octrecon/internal/orchestrator"
	"octrecon/pkg/config"
	"octrecon/pkg/visualization"
)

// app carries the state shared by all commands
type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "octrecon",
		Short:         "Swept-source OCT acquisition and reconstruction",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "octrecon.yaml", "Configuration file")

	configCmd := configCommand(a)

	rootCmd.AddCommand(
		replayCommand(a),
		simulateCommand(a),
		calibrationCommand(a),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Writing a config must work even when the current one is broken
		if cmd.Parent() == configCmd {
			return nil
		}
		return a.load()
	}

	return rootCmd
}

func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(os.Stderr, logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// newMetrics creates the metrics when enabled, or returns nil
func (a *app) newMetrics() (*metrics.Metrics, error) {
	if !a.cfg.Metrics.Enabled {
		return nil, nil
	}
	return metrics.NewMetrics(prometheus.NewRegistry())
}

// supervise runs tasks until the first one fails or all return, cancelling
// the others on failure. The metrics endpoint, when enabled, is served for as
// long as the tasks run.
func (a *app) supervise(ctx context.Context, m *metrics.Metrics, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}
	if m == nil {
		return g.Wait()
	}

	mctx, cancel := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- serveMetrics(mctx, m, a.cfg.Metrics.Listen) }()

	err := g.Wait()
	cancel()
	if serveErr := <-served; serveErr != nil {
		logging.ForModule("metrics").Error("metrics server failed", "error", serveErr)
	}
	return err
}

// serveMetrics exposes m until ctx is done
func serveMetrics(ctx context.Context, m *metrics.Metrics, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.ForModule("metrics").Info("serving metrics", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// displaySink returns the PNG writer when frames are saved, else a sink that
// only logs
func (a *app) displaySink() (orchestrator.DisplaySink, error) {
	if a.cfg.Output.SaveFrames {
		return visualization.NewFrameWriter(a.cfg.Output.Dir)
	}
	return logSink{}, nil
}

type logSink struct{}

func (logSink) Show(res models.FrameResult) error {
	logging.ForModule("display").Info("frame",
		"index", res.Index,
		"width", res.BScan.Rect.Dx(),
		"shift", res.Shift,
		"elapsed", res.Elapsed)
	return nil
}
