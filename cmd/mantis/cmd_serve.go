package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goliatone/go-mantis/adapters/gojob"
	"github.com/goliatone/go-mantis/adapters/gologger"
	"github.com/goliatone/go-mantis/configfile"
	"github.com/goliatone/go-mantis/httpapi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	addr    string
	migrate bool
	worker  bool
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the settlement HTTP API",
		Long: `Serves the settlement HTTP API, /metrics and /healthz. Dispatcher settings
are re-applied when the config file changes. With --worker (or worker.enabled)
requests made with ?async=true are queued and drained in process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *global, *opts)
		},
	}
	serveCmd.Flags().StringVar(&opts.addr, "addr", "", "Override http.addr")
	serveCmd.Flags().BoolVar(&opts.migrate, "migrate", false, "Apply migrations before serving")
	serveCmd.Flags().BoolVar(&opts.worker, "worker", false, "Run the in-process job worker")
	return serveCmd
}

func runServe(ctx context.Context, global globalOptions, opts serveOptions) error {
	app, err := newApplication(ctx, global, appOptions{migrate: opts.migrate})
	if err != nil {
		return err
	}
	defer app.Close()

	if app.loader != nil {
		configfile.BindWebhookReload(app.loader, app.service, gologger.Component(app.provider, "config"))
		stopWatch, err := app.loader.Watch(ctx)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	routerOpts := []httpapi.Option{
		httpapi.WithLogger(gologger.Component(app.provider, "http")),
		httpapi.WithMetricsHandler(app.metrics.Handler()),
		httpapi.WithHealthCheck(func(ctx context.Context) error {
			return app.factory.DB().PingContext(ctx)
		}),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if opts.worker || app.config.Worker.Enabled {
		jobQueue := gojob.NewMemoryQueue()
		runner, err := gojob.NewRunner(app.bus,
			gojob.NewDequeuerAdapter(jobQueue, gojob.RetryPolicy{MaxAttempts: 5, DeadLetterOnMax: true}),
			gojob.WithRunnerLogger(gologger.Component(app.provider, "worker")),
			gojob.WithRunnerHook(gojob.NewMetricsHook(app.metrics)),
			gojob.WithPollInterval(app.config.Worker.PollInterval()),
			gojob.WithRetryDelay(app.config.Worker.RetryDelay()),
		)
		if err != nil {
			return err
		}
		routerOpts = append(routerOpts, httpapi.WithJobEnqueuer(gojob.NewEnqueuerAdapter(jobQueue)))
		group.Go(func() error {
			return runner.Run(groupCtx)
		})
	}

	addr := app.config.HTTP.Addr
	if opts.addr != "" {
		addr = opts.addr
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewRouter(app.bus, app.service, routerOpts...),
		ReadTimeout:  app.config.HTTP.ReadTimeout(),
		WriteTimeout: app.config.HTTP.WriteTimeout(),
	}

	group.Go(func() error {
		app.logger.Info("http server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mantis: http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout())
		defer cancel()
		app.logger.Info("http server shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
