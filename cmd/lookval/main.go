// Package main provides the CLI for lookval, SQL validation for Looker projects.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/lookval/internal/cli"
)

func main() {
	// Interrupts cancel the run; outstanding queries are cancelled and the
	// workspace is restored before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
