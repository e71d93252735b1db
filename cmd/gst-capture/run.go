package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	gstcapture "github.com/Idein/actfw-gstreamer"
	"github.com/Idein/actfw-gstreamer/engine"
	"github.com/Idein/actfw-gstreamer/engine/gstengine"
	"github.com/Idein/actfw-gstreamer/internal/config"
	"github.com/Idein/actfw-gstreamer/metrics"
	"github.com/Idein/actfw-gstreamer/stream"
)

const saverOutlet = "saver"

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture frames until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			quality, _ := cmd.Flags().GetInt("jpeg-quality")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.OutOrStdout(), gstengine.Init(nil), cfg, quality)
		},
	}

	fs := cmd.Flags()
	fs.String("policy", "", "Restart policy: simple, backoff")
	fs.Duration("threshold", 0, "Connection-lost threshold (0 disables silence detection)")
	fs.Int("max-errors", 0, "Restarts allowed by the simple policy")
	fs.Int("max-retries", 0, "Consecutive restarts allowed by the backoff policy")
	fs.Duration("poll-timeout", 0, "Capture poll timeout, bounds shutdown latency")
	fs.String("output", "", "Directory to save captured frames (optional)")
	fs.String("format", "", "Output format: png, jpeg, bmp, tiff")
	fs.Int("jpeg-quality", 90, "JPEG quality (1-100, only for jpeg format)")
	fs.Int("every", 0, "Save every n-th frame")
	fs.Int("max-frames", 0, "Maximum frames to capture (0 = unlimited)")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	fs.Duration("stats-interval", 0, "Interval between stats reports")
	return cmd
}

// run captures with cfg until ctx is done, the restart policy gives up or
// MaxFrames frames were consumed.
func run(ctx context.Context, out io.Writer, eng engine.Engine, cfg *config.Config, jpegQuality int) error {
	gen, err := cfg.Generator(eng)
	if err != nil {
		return err
	}

	if cfg.Output.Dir != "" {
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		slog.Info("frame saving enabled",
			"directory", cfg.Output.Dir,
			"format", cfg.Output.Format,
			"every", cfg.Output.Every,
		)
	}

	m := metrics.New()
	opts := append(cfg.CaptureOptions(), gstcapture.WithMetrics(m))
	c := gstcapture.New(stream.NewBuilder(gen, cfg.NewConverter()), cfg.RestartPolicy(), opts...)
	defer c.Close()

	frames := make(chan gstcapture.Frame, cfg.Output.Queue)
	if err := c.Connect(saverOutlet, frames); err != nil {
		return err
	}

	sv := &saver{
		dir:         cfg.Output.Dir,
		format:      cfg.Output.Format,
		every:       cfg.Output.Every,
		width:       cfg.Caps.Width,
		height:      cfg.Caps.Height,
		jpegQuality: jpegQuality,
	}

	fmt.Fprintf(out, "Pipeline: %s\n", gen)
	fmt.Fprintf(out, "Press Ctrl+C to stop gracefully\n\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()

	g.Go(func() error {
		defer cancel()
		err := c.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return consume(ctx, frames, sv, cfg.Output.MaxFrames, c.Stop)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Metrics.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				printStats(out, c.Stats(), sv, time.Since(start))
			}
		}
	})

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			slog.Info("starting to listen for metrics requests", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var errs *multierror.Error
	if err := g.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if n := sv.failed.Load(); n > 0 {
		errs = multierror.Append(errs, fmt.Errorf("%d frames could not be saved", n))
	}

	printFinalStats(out, c.Stats(), sv, time.Since(start))
	return errs.ErrorOrNil()
}

// consume drains the saver outlet. Reaching maxFrames calls stop.
func consume(ctx context.Context, frames <-chan gstcapture.Frame, sv *saver, maxFrames int, stop func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			path, err := sv.handle(f)
			if err != nil {
				slog.Error("failed to save frame", "error", err, "seq", f.Seq)
			} else if path != "" {
				slog.Debug("frame saved", "seq", f.Seq, "path", path, "trace_id", f.TraceID)
			}
			if maxFrames > 0 && sv.seen.Load() >= uint64(maxFrames) {
				slog.Info("reached maximum frames, stopping", "max_frames", maxFrames)
				stop()
				return nil
			}
		}
	}
}

func printStats(w io.Writer, st gstcapture.Stats, sv *saver, uptime time.Duration) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "╭─────────────────────────────────────────────────────────╮\n")
	fmt.Fprintf(w, "│ Capture Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Fprintf(w, "├─────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(w, "│ Frames Captured:    %6d frames\n", st.FramesCaptured)
	fmt.Fprintf(w, "│ Frames Saved:       %6d frames\n", sv.saved.Load())
	for _, id := range sortedKeys(st.Outlets) {
		o := st.Outlets[id]
		fmt.Fprintf(w, "│ Outlet %-12s %6d sent, %d dropped (%.1f%%)\n", id+":", o.Sent, o.Dropped, o.DropRate)
	}
	fmt.Fprintf(w, "│ Real FPS:           %6.2f fps (stddev %.2f, stable %v)\n", st.FPS.FPSMean, st.FPS.FPSStdDev, st.FPS.Stable)
	if !st.LastFrameAt.IsZero() {
		fmt.Fprintf(w, "│ Latency:            %6d ms\n", time.Since(st.LastFrameAt).Milliseconds())
	}
	fmt.Fprintf(w, "│ Pipelines Started:  %6d\n", st.Attempts)
	fmt.Fprintf(w, "│ Restarts:           %6d build, %d connection lost\n", st.RestartsBuildError, st.RestartsConnectionLost)
	fmt.Fprintf(w, "│ Coalesced:          %6d notifications\n", st.Coalesced)

	var totalErrors uint64
	for _, n := range st.EngineErrors {
		totalErrors += n
	}
	if totalErrors > 0 {
		fmt.Fprintf(w, "├─────────────────────────────────────────────────────────┤\n")
		fmt.Fprintf(w, "│ Error Telemetry\n")
		fmt.Fprintf(w, "├─────────────────────────────────────────────────────────┤\n")
		for _, cat := range sortedKeys(st.EngineErrors) {
			fmt.Fprintf(w, "│ %-19s %6d\n", cat+":", st.EngineErrors[cat])
		}
	}
	fmt.Fprintf(w, "╰─────────────────────────────────────────────────────────╯\n")
}

func printFinalStats(w io.Writer, st gstcapture.Stats, sv *saver, uptime time.Duration) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "                     Final Statistics                      \n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Total Uptime:       %s\n", uptime.Round(time.Second))
	fmt.Fprintf(w, "  Frames Captured:    %d frames\n", st.FramesCaptured)
	if sv.dir != "" {
		fmt.Fprintf(w, "  Frames Saved:       %d frames\n", sv.saved.Load())
		fmt.Fprintf(w, "  Save Failures:      %d frames\n", sv.failed.Load())
	}
	fmt.Fprintf(w, "  Pipelines Started:  %d\n", st.Attempts)
	fmt.Fprintf(w, "  Restarts:           %d\n", st.RestartsBuildError+st.RestartsConnectionLost)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
