// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/zeromicro/go-zero/core/threading"
	"github.com/zeromicro/go-zero/rest"

	"equityfeed/internal/cli"
	"equityfeed/internal/config"
	"equityfeed/internal/handler"
	"equityfeed/internal/svc"
	"equityfeed/internal/warmer"
)

var configFile = flag.String("f", "etc/equityfeed.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	ctx := svc.NewServiceContext(*cfg)
	handler.RegisterHandlers(server, ctx)

	warmCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if len(cfg.Warmer.Symbols) > 0 {
		w := warmer.New(ctx.Acquirer, cfg.Warmer.Symbols, cfg.WarmerKinds(), cfg.WarmerInterval(),
			warmer.WithDirectory(cfg.Warmer.Directory))
		threading.GoSafe(func() { w.Run(warmCtx) })
	}

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
