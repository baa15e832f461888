package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/steynovich/ha-loca/internal/config"
	"github.com/steynovich/ha-loca/internal/core"
	"github.com/steynovich/ha-loca/internal/router"
	"github.com/steynovich/ha-loca/internal/server"
	"github.com/steynovich/ha-loca/plugins/loca"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	setupLogging(cfg.Core.LogLevel)

	var compiled []core.Plugin
	if plugin, ok := loca.NewPlugin(cfg.Loca, cfg.MQTT); ok {
		compiled = append(compiled, plugin)
	}

	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		logrus.Fatalf("plugin config: %v", err)
	}
	plugins := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(plugins); err != nil {
		logrus.Fatalf("plugin validation: %v", err)
	}
	if len(plugins) == 0 {
		logrus.Fatal("no plugins configured")
	}

	if err := core.WriteDashboards(cfg.Core.DashboardDir, plugins); err != nil {
		logrus.Warnf("write dashboards: %v", err)
	}

	metricsRegistry := core.MetricsRegistry(plugins)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "haloca_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler)
	mux.Handle("/metrics", server.MetricsHandler(metricsRegistry))
	mux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(plugins)))
	router.RegisterPlugins(mux, plugins)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, mux)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, plugin := range plugins {
		runner, ok := plugin.(core.Runner)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(stop)
		}()
	}

	go func() {
		logrus.Infof("http listening on %s", cfg.Core.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("http serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")
	close(stop)
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logrus.Warnf("http shutdown: %v", err)
	}
	logrus.Info("stopped")
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	switch level {
	case "DEBUG":
		logrus.SetLevel(logrus.DebugLevel)
	case "INFO":
		logrus.SetLevel(logrus.InfoLevel)
	case "WARN":
		logrus.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
