// Package main is the tutor binary: the HTTP service, the worker and the
// operator commands behind one cobra tree.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/socratic-tutor/internal/interface/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, version); err != nil {
		os.Exit(1)
	}
}
