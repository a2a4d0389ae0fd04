package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mostlygeek/genstudio/assets"
	"github.com/mostlygeek/genstudio/backend"
	"github.com/mostlygeek/genstudio/resolver"
	"github.com/mostlygeek/genstudio/store"
	"github.com/mostlygeek/genstudio/studio"
	"github.com/mostlygeek/genstudio/studio/config"
)

var (
	version string = "0"
	commit  string = "abcd1234"
	date    string = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file name")
	listenStr := flag.String("listen", ":8080", "listen ip/port")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	showVersion := flag.Bool("version", false, "show version of build")
	watchConfig := flag.Bool("watch-config", false, "reload built-in configurations when the config file changes")
	flag.Parse()

	if *showVersion {
		fmt.Printf("version: %s (%s), built at %s\n", version, commit, date)
		os.Exit(0)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Error loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := studio.NewLogMonitor()
	logger.SetLogLevel(studio.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := studio.InitTracing(ctx, cfg.Tracing, "genstudio", version)
	if err != nil {
		logger.Errorf("<main> tracing: %v", err)
		os.Exit(1)
	}

	opener, err := store.NewOpener(cfg.Store.Options())
	if err != nil {
		logger.Errorf("<main> store: %v", err)
		os.Exit(1)
	}
	docs := store.NewShared(opener)
	defer docs.Close()

	replicate := backend.NewReplicate(cfg.Replicate.BaseURL, cfg.Replicate.Token)
	fal := backend.NewFal(cfg.Fal.QueueURL, cfg.Fal.Key)
	gradio := backend.NewGradio(cfg.Gradio.HostAPI, cfg.Gradio.Token)

	if opts := cfg.Assets.Options(); opts.Enabled() {
		mirror, err := assets.New(ctx, opts, logger)
		if err != nil {
			logger.Errorf("<main> assets: %v", err)
			os.Exit(1)
		}
		replicate.Publisher = mirror
		fal.Publisher = mirror
		logger.Infof("<main> mirroring input media to %s/%s", opts.Endpoint, opts.Bucket)
	}

	srv, err := studio.New(studio.Options{
		Config:     cfg,
		Resolver:   resolver.New(docs, cfg.Configurations),
		Dispatcher: backend.NewDispatcher(replicate, fal, gradio),
		Logger:     logger,
		Version:    version,
		Commit:     commit,
		BuildDate:  date,
	})
	if err != nil {
		logger.Errorf("<main> %v", err)
		os.Exit(1)
	}

	if *watchConfig {
		err := config.Watch(ctx, *configPath, srv.ApplyConfig, func(err error) {
			logger.Warnf("<main> config reload failed: %v", err)
		})
		if err != nil {
			logger.Warnf("<main> config watcher not started: %v", err)
		}
	}

	httpServer := &http.Server{
		Addr:              *listenStr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("<main> genstudio listening on %s (%d built-in configurations)", *listenStr, len(cfg.Configurations))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("<main> %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("<main> shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("<main> http shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warnf("<main> tracing shutdown: %v", err)
	}
}
