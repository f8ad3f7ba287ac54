package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/broadcast"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/executor"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intervention"
	redisstore "github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/telemetry"
	"github.com/shubham-kr2002/AI-JOB-AGENT/services/sweeper"
	"github.com/shubham-kr2002/AI-JOB-AGENT/services/sweeper/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sweeper",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("schedule", "@every 30s", "sweep schedule (cron expression or @every descriptor)")
	serveCmd.Flags().Duration("stale-after", 15*time.Minute, "heartbeat age after which an execution is failed")
	serveCmd.Flags().String("metrics-addr", ":9097", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("schedule", serveCmd.Flags(), "schedule")
	bindFlag("stale_after", serveCmd.Flags(), "stale-after")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	instanceID := "sweeper-" + uuid.New().String()[:8]

	logger := buildLogger(cfg.LogLevel, "sweeper").With(
		slog.String("instance_id", instanceID),
	)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "sweeper", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	execStore := redisstore.NewExecutionStore(redisClient)
	intStore := redisstore.NewInterventionStore(redisClient)
	bus := redisstore.NewBus(redisClient, logger)

	interventions := intervention.NewManager(intStore, bus, logger)
	reporter := executor.NewReporter(execStore, broadcast.NewBroadcaster(bus, logger))
	elector := sweeper.NewRedisElector(redisClient, instanceID, logger)

	s := sweeper.New(
		elector, execStore, intStore, interventions, reporter,
		sweeper.WithLogger(logger),
		sweeper.WithStaleAfter(cfg.StaleAfter),
	)

	runCtx, runCancel := context.WithCancel(context.Background())
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		runCancel()
	}()

	logger.Info("sweeper starting",
		slog.String("schedule", cfg.Schedule),
		slog.Duration("stale_after", cfg.StaleAfter),
	)

	if err := s.Run(runCtx, cfg.Schedule); err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}

	logger.Info("stopped cleanly")
	return nil
}
