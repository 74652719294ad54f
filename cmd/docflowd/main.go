// Command docflowd watches the configured directories and processes PDFs as
// they arrive, serving gRPC health checks and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/async"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

const drainTimeout = 30 * time.Second

func main() {
	configFile := flag.String("config", "", "config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configFile, logger); err != nil {
		logger.Error("docflowd.failed", "error", err)
		os.Exit(1)
	}
}

func run(configFile string, logger *slog.Logger) error {
	cfg, err := common.NewLoader().Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Pipeline.WatchDirs) == 0 {
		return common.NewConfigurationError("pipeline.watch_dirs is empty", common.ErrConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("docflowd.close.failed", "error", err)
		}
	}()

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("grpc.serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc.serve.failed", "error", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("metrics.serving", "addr", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics.serve.failed", "error", err)
			stop()
		}
	}()

	err = a.Watch(ctx, cfg.Pipeline.WatchDirs, drainTimeout, func(job async.Job, doc *entity.DocumentRecord, err error) {
		if err != nil {
			logger.Warn("document.failed",
				"req_id", job.TraceID,
				"path", job.Path,
				"code", status.Code(common.ToGRPC(err)).String(),
				"error", err,
			)
		}
		if doc == nil {
			return
		}
		logger.Info("document.done",
			"req_id", job.TraceID,
			"doc_id", doc.ID.String(),
			"status", doc.Status,
			"document_type", doc.DocumentType,
		)
	})

	logger.Info("docflowd.shutdown")
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(sctx)
	wg.Wait()
	return err
}
