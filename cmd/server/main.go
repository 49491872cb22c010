package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/config"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/constants"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring/tracing"
	srv "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/server"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (yaml, toml or json)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Version)
		return
	}
	if err := run(*configPath, *debug); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(configPath string, debug bool) error {
	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer cm.Close()

	cfg := cm.GetConfig()
	if debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if err := logging.Setup(cfg); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = logging.Close() }()
	log.WithFields(log.Fields{"version": version.Version, "config": cm.Path()}).Info("starting pool proxy")

	traceShutdown, err := tracing.Init(context.Background(), tracing.OptionsFromEnv())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := srv.NewApp(ctx, cm, srv.Options{})
	if err != nil {
		return err
	}
	if cfg.Debug {
		app.Hub.Subscribe(events.TopicAll, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Debugf("event: %v", evt.Payload)
		})
	}
	if err := app.Start(context.Background()); err != nil {
		_ = app.Shutdown(context.Background())
		return fmt.Errorf("start background tasks: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           app.Engine,
		ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
