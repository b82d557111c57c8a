package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/previewhq/preview-core/api"
	"github.com/previewhq/preview-core/config"
	"github.com/previewhq/preview-core/exec"
	"github.com/previewhq/preview-core/logger"
	"github.com/previewhq/preview-core/preview"
)

func main() {
	configPath := flag.String("config", "", "path to previewd.yaml (default: standard config dir)")
	listenAddr := flag.String("listen", "", "override listen address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *debug {
		cfg.Debug = true
	}

	logger.SetDebug(cfg.Debug)
	log := logger.WithComponent("previewd")

	svc := preview.NewService(cfg, exec.NewRealExecutor())

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go svc.Reaper.Run(reaperCtx)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewRouter(svc, logger.Get()),
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("previewd starting",
			"addr", cfg.ListenAddr,
			"portRange", fmt.Sprintf("%d-%d", cfg.PortRangeStart, cfg.PortRangeEnd),
			"sessionTTL", cfg.SessionTTL.Duration.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down...")
	stopReaper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	// Every live dev server goes down with the daemon.
	if n := svc.Reaper.StopAll(); n > 0 {
		log.Info("sessions stopped", "count", n)
	}

	log.Info("previewd stopped")
	logger.Close()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
