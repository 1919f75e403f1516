// bfrt drives the match-action tables of a P4 device model.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-bfrt/cmd/bfrt/cli"
)

func main() {
	var c cli.CLI
	kctx := kong.Parse(&c, cli.KongOptions()...)

	// Create context that cancels on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(&c); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
