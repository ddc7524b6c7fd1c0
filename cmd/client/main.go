package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/blocksync/internal/buildinfo"
	"github.com/dmitrijs2005/blocksync/internal/client/cli"
	"github.com/dmitrijs2005/blocksync/internal/client/config"
	"github.com/dmitrijs2005/blocksync/internal/flagx"
)

func main() {
	args := flagx.Positional(os.Args[1:], config.ValueFlags)
	if len(args) > 0 && args[0] == "version" {
		buildinfo.PrintBuildData(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	err = app.Run(ctx, args)
	_ = app.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
