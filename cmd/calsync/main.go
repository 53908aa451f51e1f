package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"calsync/src/app"
	"calsync/src/lib"
)

func main() {
	once := flag.Bool("once", false, "run a single sync of HUB_NAME and exit")
	seed := flag.String("seed", "", "YAML seed file applied at startup (overrides SEED_FILE)")
	flag.Parse()

	cfg, err := lib.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *seed != "" {
		cfg.SeedFile = *seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := app.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap server: %v", err)
	}

	if *once {
		report, err := server.RunOnce(ctx)
		server.Close()
		if err != nil {
			log.Fatalf("sync failed: %v", err)
		}
		for _, sink := range report.Sinks {
			if sink.Error != "" {
				log.Printf("sink %s: %s", sink.Sink, sink.Error)
			}
		}
		return
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Printf("received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("graceful shutdown failed: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("server exited with error: %v", err)
		}
	}
}
