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

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	frameloop "github.com/Swind/go-frameloop"
	"github.com/Swind/go-frameloop/config"
	"github.com/Swind/go-frameloop/core"
	"github.com/Swind/go-frameloop/logging"
	obs "github.com/Swind/go-frameloop/observability/prometheus"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the render and update loops",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "preferences",
				Aliases: []string{"p"},
				EnvVars: []string{"FRAMELOOP_PREFERENCES"},
				Usage:   "YAML preferences file",
			},
			&cli.IntFlag{
				Name:    "max-worker-threads",
				EnvVars: []string{"FRAMELOOP_MAX_WORKER_THREADS"},
				Usage:   "cap on concurrent worker jobs (0 = unbounded); overrides the preferences file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"FRAMELOOP_LOG_LEVEL"},
				Usage:   "debug, info, warn or error; overrides the preferences file",
			},
			&cli.StringFlag{
				Name:    "log-format",
				EnvVars: []string{"FRAMELOOP_LOG_FORMAT"},
				Usage:   "text or json; overrides the preferences file",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				EnvVars: []string{"FRAMELOOP_METRICS_ADDR"},
				Usage:   "serve Prometheus metrics on this address, e.g. 127.0.0.1:2112",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "quit after this long (0 = until interrupted)",
			},
		},
		Action: runAction,
	}
}

func preferencesCommand() *cli.Command {
	return &cli.Command{
		Name:  "preferences",
		Usage: "print the effective preferences as YAML",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "preferences",
				Aliases: []string{"p"},
				EnvVars: []string{"FRAMELOOP_PREFERENCES"},
				Usage:   "YAML preferences file",
			},
		},
		Action: func(c *cli.Context) error {
			prefs, err := config.Load(c.String("preferences"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			data, err := prefs.Marshal()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}

// loadPreferences reads the preferences file and applies flag/env overrides.
func loadPreferences(c *cli.Context) (config.Preferences, error) {
	prefs, err := config.Load(c.String("preferences"))
	if err != nil {
		return prefs, err
	}
	if c.IsSet("max-worker-threads") {
		prefs.MaxWorkerThreads = c.Int("max-worker-threads")
	}
	if c.IsSet("log-level") {
		prefs.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		prefs.LogFormat = c.String("log-format")
	}
	if c.IsSet("metrics-addr") {
		prefs.MetricsAddr = c.String("metrics-addr")
	}
	return prefs, prefs.Validate()
}

func runAction(c *cli.Context) error {
	prefs, err := loadPreferences(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	level, err := logging.ParseLevel(prefs.LogLevel)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger, err := logging.New(c.App.ErrWriter, prefs.LogFormat, level)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	opts := []frameloop.Option{
		frameloop.WithLogger(logger),
		frameloop.WithPanicHandler(&core.DefaultPanicHandler{Logger: logger}),
		frameloop.WithRejectedTaskHandler(&core.DefaultRejectedTaskHandler{Logger: logger}),
	}

	var reg *prom.Registry
	if prefs.MetricsAddr != "" {
		reg = prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		exporter, err := obs.NewMetricsExporter("frameloop", reg, obs.ExporterOptions{})
		if err != nil {
			return cli.Exit(fmt.Sprintf("metrics: %v", err), 1)
		}
		opts = append(opts, frameloop.WithMetrics(exporter))
	}

	p := newPlayer(logger)
	opts = append(opts, frameloop.WithUpdateHook(p.update), frameloop.WithRenderHook(p.render))

	app, err := frameloop.New(prefs.AppConfig(), opts...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	p.attach(app)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if reg != nil {
		shutdownMetrics, err := serveMetrics(ctx, prefs.MetricsAddr, reg, app, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("metrics: %v", err), 1)
		}
		defer shutdownMetrics()
	}

	p.scanLibrary()

	simCtx, cancelSim := context.WithCancel(ctx)
	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		p.simulate(simCtx)
	}()

	runErr := app.Run(ctx)
	cancelSim()
	<-simDone
	if runErr != nil {
		return cli.Exit(runErr.Error(), 1)
	}
	p.report(c.App.Writer)
	return nil
}

// serveMetrics starts the snapshot poller and the /metrics endpoint. The
// returned func stops both.
func serveMetrics(ctx context.Context, addr string, reg *prom.Registry, app *frameloop.App, logger core.Logger) (func(), error) {
	poller, err := obs.NewSnapshotPoller(reg, 250*time.Millisecond)
	if err != nil {
		return nil, err
	}
	poller.AddPool(app.Pool().Name(), app.Pool())
	poller.SetPhases(app.Phases())
	poller.SetFreezeState(app.Barrier())
	poller.AddLoop("update", obs.LoopSnapshotFunc(func() core.LoopStats { return app.Stats().Update }))
	poller.AddLoop("render", obs.LoopSnapshotFunc(func() core.LoopStats { return app.Stats().Render }))
	poller.Start(context.WithoutCancel(ctx))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", core.F("addr", addr), core.F("error", err))
		}
	}()
	logger.Info("metrics endpoint listening", core.F("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		poller.Stop()
	}, nil
}
