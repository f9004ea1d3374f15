// Command browserpoold is the pool daemon: it brings the configured
// number of browser containers up (or discovers already-running ones
// in manage-only mode), then serves the HTTP Facade until signalled to
// stop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/oddstack/browserpool/internal/agentlink"
	"github.com/oddstack/browserpool/internal/api"
	"github.com/oddstack/browserpool/internal/config"
	"github.com/oddstack/browserpool/internal/driver"
	"github.com/oddstack/browserpool/internal/pool"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	overridePath := flag.String("config", "", "path to an optional YAML config override")
	flag.Parse()

	cfg, err := config.Load(*overridePath)
	if err != nil {
		log.Fatalf("browserpoold: loading config: %v", err)
	}

	runner, err := driver.NewCLIRunner()
	if err != nil {
		log.Fatalf("browserpoold: %v", err)
	}

	logger := log.Default()
	p := pool.New(cfg.Lifecycle, runner, agentlink.NewDialer(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("browserpoold: starting %d browsers, mode=%v", cfg.Lifecycle.N, cfg.Lifecycle.Mode)
	if err := p.Init(ctx, cfg.PullOnStart); err != nil {
		log.Fatalf("browserpoold: pool init: %v", err)
	}

	srv := api.NewServer(p, logger)
	go func() {
		if err := api.ListenAndServe(cfg.ListenAddr, srv); err != nil {
			log.Fatalf("browserpoold: api server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	log.Println("browserpoold: shutting down")
	p.Shutdown()
	cancel()
}
