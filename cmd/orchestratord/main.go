// orchestratord is the Cascade orchestration server: it serves the Job
// Store, Runner Registry, Radar, Routing, Cascade and Artifact Validator
// components as MCP tools over JSON-RPC 2.0 on stdio.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/cascadehq/cascade/internal/appconfig"
	"github.com/cascadehq/cascade/internal/digest"
	metrics "github.com/cascadehq/cascade/internal/obsmetrics"
	"github.com/cascadehq/cascade/internal/obstrace"
	"github.com/cascadehq/cascade/internal/radar"
	"github.com/cascadehq/cascade/internal/rpcserver"
	"github.com/cascadehq/cascade/internal/runners"
	"github.com/cascadehq/cascade/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CASCADE_CONFIG_FILE"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.HasTracing() {
		tp, err := obstrace.Init(ctx, obstrace.Config{ServiceName: "orchestratord", Endpoint: cfg.OTLPEndpoint})
		if err != nil {
			logger.Fatal("failed to init tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Fatal("failed to create data dir", zap.Error(err))
	}

	st, err := store.NewStore(filepath.Join(cfg.DataDir, "jobs.db"), store.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to open job store", zap.Error(err))
	}
	defer st.Close()

	reg, err := runners.NewRegistry(st.DB(), runners.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to init runner registry", zap.Error(err))
	}
	st.SetSelfHealer(reg)

	nowMs := func() int64 { return time.Now().UTC().UnixMilli() }
	rd := radar.New(st, reg, nowMs)

	metricsReg := metrics.NewRegistry()
	if cfg.HasMetrics() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsReg.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var opts []rpcserver.Option
	if len(cfg.DigestSchedules) > 0 {
		sched, err := digest.New(rd, logDigestSink(logger), cfg.DigestSchedules, logger, nowMs)
		if err != nil {
			logger.Fatal("failed to build digest scheduler", zap.Error(err))
		}
		sched.Start(ctx, time.Minute)
		defer sched.Stop()
		opts = append(opts, rpcserver.WithDigestScheduler(sched))
	}

	rpcserver.Version = version
	server := rpcserver.New(st, reg, rd, logger, opts...)

	logger.Info("starting orchestratord",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
		zap.String("data_dir", cfg.DataDir),
	)

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("rpc server error", zap.Error(err))
	}
	logger.Info("shutting down")
}

// logDigestSink logs each digest snapshot; spec.md deliberately leaves the
// notification transport unspecified, so a structured log line is the
// reference sink an operator can pipe elsewhere.
func logDigestSink(logger *zap.Logger) digest.Sink {
	return func(snap digest.Snapshot) {
		logger.Info("digest snapshot",
			zap.String("workspace", snap.Workspace),
			zap.Int64("taken_at_ms", snap.TakenAtMs),
			zap.Int("rows", len(snap.Rows)),
			zap.Bool("has_more", snap.HasMore),
		)
	}
}
