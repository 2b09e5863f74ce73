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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mira/internal/config"
	"mira/internal/executor"
	"mira/internal/intent"
	"mira/internal/jobsync"
	"mira/internal/llm"
	"mira/internal/logging"
	"mira/internal/pulse"
	"mira/internal/reflection"
	"mira/internal/schedule"
	"mira/internal/scheduler"
	"mira/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent loops (job poller, check-in pulse, reflection timer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logger := logging.NewComponentLogger("serve")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	calc := schedule.NewCalculator(loc)

	client := llm.NewFromConfig(llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		TimeoutSecs: cfg.LLM.TimeoutSecs,
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	if _, mock := client.(*llm.MockClient); mock {
		logger.Warn("No LLM API key configured, using the mock provider")
	}

	pipeline := intent.New(db, calc, intent.DefaultConfig(), logging.NewComponentLogger("intent"))
	runner := executor.New(client, db, pipeline, executor.Config{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
	}, logging.NewComponentLogger("executor"))
	runner.SetNotifier(newLogNotifier())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// File-origin jobs: load once, then track edits.
	syncer := jobsync.New(cfg.Jobs.File, db, calc, logging.NewComponentLogger("jobsync"))
	if err := syncer.Sync(ctx); err != nil {
		logger.Warn("Initial job sync failed: %v", err)
	}
	if err := syncer.Watch(ctx); err != nil {
		logger.Warn("Job file watch unavailable: %v", err)
	}

	poller := scheduler.New(db, runner, calc, scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalSecs) * time.Second,
	}, logging.NewComponentLogger("scheduler"))

	checker := pulse.New(runner, newLogNotifier(), db, pulse.Config{
		Enabled:         cfg.Pulse.Enabled,
		Interval:        time.Duration(cfg.Pulse.IntervalMins) * time.Minute,
		ActiveStartHour: cfg.Pulse.ActiveStartHour,
		ActiveEndHour:   cfg.Pulse.ActiveEndHour,
		Prompt:          cfg.Pulse.Prompt,
	}, loc, logging.NewComponentLogger("pulse"))

	reflector := reflection.New(runner, db, reflection.Config{
		Enabled:      cfg.Reflection.Enabled,
		Hour:         cfg.Reflection.Hour,
		PollInterval: time.Duration(cfg.Reflection.PollIntervalMins) * time.Minute,
	}, loc, logging.NewComponentLogger("reflection"))

	if err := poller.Start(ctx); err != nil {
		return err
	}
	if err := checker.Start(ctx); err != nil {
		return err
	}
	if err := reflector.Start(ctx); err != nil {
		return err
	}

	metricsSrv := startMetricsServer(cfg.Server.MetricsAddr, logger)

	logger.Info("mira %s serving (tz=%s db=%s)", version, loc, cfg.Database.Path)
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	poller.Stop()
	checker.Stop()
	reflector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown: %v", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func startMetricsServer(addr string, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server: %v", err)
		}
	}()
	return srv
}

// logNotifier writes unattended output to stdout. It stands in for a real
// chat transport, which is out of scope for this process.
type logNotifier struct {
	logger logging.Logger
}

func newLogNotifier() *logNotifier {
	return &logNotifier{logger: logging.NewComponentLogger("notify")}
}

func (n *logNotifier) Notify(_ context.Context, text string, voice bool) error {
	if voice {
		n.logger.Info("[voice] %s", text)
	} else {
		n.logger.Info("%s", text)
	}
	fmt.Fprintln(os.Stdout, text)
	return nil
}
