// Package main is the graphopt command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sergeeey/TERAG111-sub002/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.Execute(ctx)
}
