// Package main provides the entry point for the otahub update checker CLI.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := Execute(ctx)
	stop()
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}
