package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-bfrt/server"
)

// ServeCmd starts the gRPC daemon.
type ServeCmd struct {
	TCPAddress string `name:"tcp-address" help:"TCP address for the gRPC server. Empty serves the Unix socket only."`
}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI, ctx context.Context) error {
	appConfig, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := cli.LoggerFromConfig(appConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	dirs, err := cli.RuntimeDirs(appConfig)
	if err != nil {
		return err
	}

	return server.Run(ctx, server.RunConfig{
		Dirs:       dirs,
		TCPAddress: c.TCPAddress,
		Logger:     logger,
		Config:     appConfig,
	})
}
