package cli

import (
	"context"
	"fmt"
)

// UsageCmd shows entry counts.
type UsageCmd struct {
	OutputFlags
	Table string `arg:"" optional:"" help:"Table name. Empty shows every table across all pipes."`
}

// Run executes the usage command.
func (c *UsageCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	var usage map[string]uint32
	if c.Table == "" {
		usage, err = b.AllUsage(ctx)
	} else {
		var n uint32
		n, err = b.Usage(ctx, cli.Ref(c.Table))
		usage = map[string]uint32{c.Table: n}
	}
	if err != nil {
		return err
	}

	output, err := FormatUsage(usage, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
