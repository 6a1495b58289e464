package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/lakequery/lakequery/internal/cli/lakequery"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := cli.Run(ctx, os.Args[1:], cli.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	os.Exit(code)
}
