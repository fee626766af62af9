package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"charting-systemv1/internal/chartengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := chartengine.LoadConfig()
	log.Printf("[chartengine] enabled TFs: %v, snapshot interval: %ds", cfg.EnabledTFs, cfg.SnapshotIntervalS)

	svc, err := chartengine.New(cfg)
	if err != nil {
		log.Fatalf("[chartengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[chartengine] fatal: %v", err)
	}
}
