package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/worklenz/activitylog/cmd/activitylogctl/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, cli.NewRootCommand()); err != nil {
		os.Exit(1)
	}
}
