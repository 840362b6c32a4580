package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/internal/cli"
	"equityfeed/internal/config"
	"equityfeed/internal/svc"
	"equityfeed/internal/warmer"
)

const shutdownTimeout = 10 * time.Second

var (
	configFile = flag.String("f", "etc/equityfeed.yaml", "the config file")
	once       = flag.Bool("once", false, "run a single warm cycle and exit")
)

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)
	svcCtx := svc.NewServiceContext(*cfg)

	w := warmer.New(svcCtx.Acquirer, cfg.Warmer.Symbols, cfg.WarmerKinds(), cfg.WarmerInterval(),
		warmer.WithDirectory(cfg.Warmer.Directory))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		w.Cycle(ctx)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	logx.Infof("[warmer] started, %d symbols every %s", len(cfg.Warmer.Symbols), cfg.WarmerInterval())

	<-ctx.Done()
	logx.Info("[warmer] shutdown signal received, waiting for the current cycle")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logx.Info("[warmer] stopped cleanly")
	case <-time.After(shutdownTimeout):
		logx.Error("[warmer] shutdown timeout exceeded, forcing exit")
	}
}
