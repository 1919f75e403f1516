package cli

import (
	"context"
	"fmt"
)

// DescribeCmd describes the running program.
type DescribeCmd struct {
	OutputFlags
}

// Run executes the describe command.
func (c *DescribeCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	prog, err := b.Describe(ctx)
	if err != nil {
		return err
	}
	output, err := FormatProgram(prog, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
