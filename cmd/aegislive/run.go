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

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/config"
	"github.com/Nathan-Asif/AegisMedix/events"
	"github.com/Nathan-Asif/AegisMedix/logger"
	"github.com/Nathan-Asif/AegisMedix/metrics"
	"github.com/Nathan-Asif/AegisMedix/playback"
	"github.com/Nathan-Asif/AegisMedix/session"
	"github.com/Nathan-Asif/AegisMedix/summary"
	"github.com/Nathan-Asif/AegisMedix/telemetry"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

const (
	endTimeout      = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// runFlags maps run flags to config keys.
var runFlags = map[string]string{
	"subject":      "subject_id",
	"endpoint":     "transport.endpoint",
	"video":        "capture.video.enabled",
	"input-device": "capture.input_device",
	"output":       "playback.output_device",
	"api":          "summary.api_base_url",
	"metrics-addr": "metrics.addr",
	"otlp":         "tracing.endpoint",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a live consultation",
	Long: `Start a live consultation for a subject. Press Ctrl+C to end it; the
session sends its end frame, releases every device, and waits for the summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsultation(cmd, viper.GetViper())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd.Flags())
}

func addRunFlags(flags *pflag.FlagSet) {
	d := config.Default()
	flags.StringP("subject", "s", "", "Subject (patient) ID the session is for")
	flags.String("endpoint", d.Transport.Endpoint, "Live session WebSocket endpoint")
	flags.Bool("video", d.Capture.Video.Enabled, "Stream camera snapshots")
	flags.String("input-device", "", "Microphone name (default: system default)")
	flags.String("output", "", "Output device name (default: automatic)")
	flags.String("api", d.Summary.APIBaseURL, "Backend API base URL for the summary fallback")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.String("otlp", "", "OTLP/HTTP trace endpoint")
}

// bindFlags binds the run flags to their config keys so explicitly set flags
// override the file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flag, key := range runFlags {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}

func loadRunConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	if path := config.LoadEnv(); path != "" {
		logger.Debug("loaded environment file", "path", path)
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, err
	}
	if cfg.SubjectID == "" {
		return nil, errors.New("subject ID is required (--subject or AEGIS_SUBJECT_ID)")
	}
	return cfg, nil
}

// sessionConfig projects the client configuration onto one session.
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		SubjectID:     cfg.SubjectID,
		Capture:       cfg.Capture,
		GateThreshold: cfg.Audio.GateThreshold,
		Playback: playback.Config{
			SampleRate: cfg.Playback.SampleRate,
			Debounce:   cfg.Playback.Debounce,
		},
	}
}

func newDialer(cfg config.TransportConfig) *transport.WebSocketDialer {
	return transport.NewDialer(transport.DialerConfig{
		Endpoint:           cfg.Endpoint,
		SubjectParam:       cfg.SubjectParam,
		DialTimeout:        cfg.DialTimeout,
		WriteWait:          cfg.WriteWait,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		MaxMessageSize:     cfg.MaxMessageSize,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		OnProtocolError: func(e *transport.ProtocolError) {
			metrics.RecordProtocolError(string(e.Type))
		},
	})
}

func runConsultation(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadRunConfig(cmd, v)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("verbose") {
		logger.Configure(os.Stderr, cfg.Log.Format, logger.ParseLevel(cfg.Log.Level))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	defer bus.Close()
	bus.SubscribeAll(metrics.NewListener().Listener())

	if cfg.Metrics.Addr != "" {
		exporter := metrics.NewExporter(cfg.Metrics.Addr)
		go func() {
			if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics exporter stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		defer shutdown("metrics exporter", exporter.Shutdown)
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	if cfg.Tracing.Endpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to create tracer provider: %w", err)
		}
		otel.SetTracerProvider(tp)
		telemetry.SetupPropagation()
		defer shutdown("tracer provider", tp.Shutdown)
		bus.SubscribeAll(telemetry.NewSessionListener(telemetry.Tracer(tp)).OnEvent)
	}

	view := newConsole(cmd.OutOrStdout())
	bus.SubscribeAll(view.OnEvent)

	var poller *summary.Poller
	if cfg.Summary.Enabled {
		poller = summary.NewPoller(
			summary.NewClient(cfg.Summary.APIBaseURL, cfg.Summary.RequestTimeout),
			summary.Config{
				Window:    cfg.Summary.Window,
				Interval:  cfg.Summary.Interval,
				Staleness: cfg.Summary.Staleness,
			},
			view.OnFallback,
		)
		bus.Subscribe(events.EventSessionEnded, poller.Listener())
	}

	client := session.NewClient(session.Deps{
		Capture: capture.SystemOpener{},
		Dialer:  newDialer(cfg.Transport),
		Output:  &playback.PortAudioOpener{DeviceName: cfg.Playback.OutputDevice},
		Bus:     bus,
	})

	view.header(cfg.SubjectID, cfg.Capture.Video.Enabled)
	s, err := client.Start(ctx, sessionConfig(cfg))
	if err != nil {
		bus.Close()
		return fmt.Errorf("failed to start session: %w", err)
	}

	select {
	case <-ctx.Done():
		view.notice("Ending session...")
		endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
		err := client.End(endCtx)
		cancel()
		if err != nil && !errors.Is(err, session.ErrTerminal) {
			logger.Warn("session did not end cleanly", "error", err)
		}
	case <-s.Done():
	}
	stop()

	// Flush so the ended event has reached the poller before waiting on it.
	bus.Close()
	if poller != nil {
		waitForSummary(poller)
	}
	return s.Err()
}

// waitForSummary blocks until fallback lookups finish. A second interrupt
// abandons them.
func waitForSummary(p *summary.Poller) {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-sigCtx.Done():
		p.Close()
	}
}

func shutdown(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", "component", name, "error", err)
	}
}
