package cli

import (
	"context"
	"fmt"
)

// DefaultCmd groups the default entry commands.
type DefaultCmd struct {
	Get   DefaultGetCmd   `cmd:"" help:"Read the default entry."`
	Set   DefaultSetCmd   `cmd:"" help:"Install a default entry."`
	Reset DefaultResetCmd `cmd:"" help:"Restore the program's default entry."`
}

// DefaultGetCmd reads the default entry.
type DefaultGetCmd struct {
	TableArg
	OutputFlags
}

// Run executes the default get command.
func (c *DefaultGetCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	data, err := b.GetDefault(ctx, cli.Ref(c.Table))
	if err != nil {
		return err
	}
	output, err := FormatItems(data, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// DefaultSetCmd installs a default entry.
type DefaultSetCmd struct {
	TableArg
	DataArgs
}

// Run executes the default set command.
func (c *DefaultSetCmd) Run(cli *CLI, ctx context.Context) error {
	data, err := items(c.Data)
	if err != nil {
		return err
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.SetDefault(ctx, cli.Ref(c.Table), data)
}

// DefaultResetCmd restores the default entry.
type DefaultResetCmd struct {
	TableArg
}

// Run executes the default reset command.
func (c *DefaultResetCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.ResetDefault(ctx, cli.Ref(c.Table))
}
