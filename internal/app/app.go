package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/leadloop/agentbus/internal/agents"
	"github.com/leadloop/agentbus/internal/dal/broker"
	_ "github.com/leadloop/agentbus/internal/dal/broker/memory"
	_ "github.com/leadloop/agentbus/internal/dal/broker/rabbitmq"
	_ "github.com/leadloop/agentbus/internal/dal/broker/redis"
	"github.com/leadloop/agentbus/internal/dal/postgres"
	messagerepo "github.com/leadloop/agentbus/internal/dal/repositories/message/postgres"
	"github.com/leadloop/agentbus/internal/metrics"
	"github.com/leadloop/agentbus/internal/orchestrator"
	"github.com/leadloop/agentbus/internal/otel"
	"github.com/leadloop/agentbus/internal/service/services/bussvc"
	httptransport "github.com/leadloop/agentbus/internal/transport/http"
	"github.com/leadloop/agentbus/internal/worker/reprocessor"
)

// App represents the application.
type App struct {
	busSvc         *bussvc.BusService
	orch           *orchestrator.Orchestrator
	reproc         *reprocessor.Reprocessor
	transport      *httptransport.HTTPTransport
	scheduler      *cron.Cron
	busBroker      broker.Broker
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel()
	postgresClient := postgres.MustNewClient()

	backend := viper.GetString("broker.backend")
	if backend == "" {
		backend = "rabbitmq"
	}
	busBroker, err := broker.New(backend)
	if err != nil {
		panic(err)
	}

	messageRepository := messagerepo.NewMessageRepository(postgresClient)
	busMetrics := metrics.New()

	busSvc := bussvc.MustNewBusService(
		bussvc.WithMessageRepository(messageRepository),
		bussvc.WithBroker(busBroker),
		bussvc.WithMetrics(busMetrics),
	)

	orch := orchestrator.NewOrchestrator(busBroker, busSvc, agents.Bindings(busSvc), busMetrics)
	reproc := reprocessor.NewReprocessor(messageRepository, busBroker, busMetrics)

	transport := httptransport.NewHTTPTransport(busSvc, reproc, busMetrics.Handler())
	transport.RegisterRoutes()

	scheduler := cron.New()
	schedule := viper.GetString("reprocessor.schedule")
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := scheduler.AddFunc(schedule, func() {
		if _, err := reproc.Sweep(context.Background()); err != nil {
			slog.Error("Scheduled sweep failed", "error", err)
		}
	}); err != nil {
		panic(err)
	}

	return &App{
		busSvc:         busSvc,
		orch:           orch,
		reproc:         reproc,
		transport:      transport,
		scheduler:      scheduler,
		busBroker:      busBroker,
		postgresClient: postgresClient,
		otelController: otelController,
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	// Create a channel to receive OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	if err := a.orch.Start(context.Background()); err != nil {
		slog.Error("Orchestrator start error", "error", err)
		panic(err)
	}

	a.scheduler.Start()
	slog.Info("Reprocessor scheduled")

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-stop
	slog.Info("Shutdown signal received")

	a.gracefulShutdown()
}

// gracefulShutdown performs graceful shutdown of all application components.
// It stops components sequentially: HTTP server, scheduler, orchestrator,
// broker, PostgreSQL, and OpenTelemetry.
func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	<-a.scheduler.Stop().Done()
	slog.Info("Reprocessor scheduler stopped gracefully")

	if err := a.orch.Stop(); err != nil {
		slog.Error("Orchestrator stop error", "error", err)
	} else {
		slog.Info("Orchestrator stopped gracefully")
	}

	if err := a.busBroker.Close(); err != nil {
		slog.Error("Broker connection close error", "error", err)
	} else {
		slog.Info("Broker connection closed gracefully")
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed gracefully")

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Otel trace provider connection close error", "error", err)
	} else {
		slog.Info("Otel trace provider connection closed gracefully")
	}

	slog.Info("Application shutdown complete")
}
