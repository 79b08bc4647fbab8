package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/chiwei-platform/paas-workloads/internal/adapter/http"
	"github.com/chiwei-platform/paas-workloads/internal/config"
	"github.com/chiwei-platform/paas-workloads/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the request-path HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.Load())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	setupLogger(cfg)
	svcs, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	// 内置资源方案
	if err := svcs.plans.EnsureBuiltinPlans(ctx); err != nil {
		return err
	}

	handler := httpadapter.NewRouter(httpadapter.Handlers{
		App:     httpadapter.NewAppHandler(svcs.apps, cfg.DefaultRegion),
		Deploy:  httpadapter.NewDeployHandler(svcs.deploys, svcs.offlines, svcs.apps, cfg.DefaultRegion),
		Process: httpadapter.NewProcessHandler(svcs.processes, svcs.apps, cfg.DefaultRegion),
		Log:     httpadapter.NewLogHandler(svcs.logs, svcs.apps, cfg.DefaultRegion),
		Ingress: httpadapter.NewIngressHandler(svcs.ingresses, svcs.apps, cfg.DefaultRegion),
		Cluster: httpadapter.NewClusterHandler(svcs.clusters),
	}, cfg.APIToken)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRunSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run_scheduler",
		Short: "Start the task worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := config.Load()
			setupLogger(cfg)
			svcs, err := newServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svcs.Close()

			scheduler := service.NewScheduler(svcs.queue, service.SchedulerOptions{
				Workers:   cfg.SchedulerWorkers,
				Deadlines: schedulerDeadlines(cfg),
			})
			service.RegisterDefaultHandlers(scheduler, svcs.deploys, svcs.offlines, svcs.ingresses, svcs.images)
			return scheduler.Run(ctx)
		},
	}
}
