package cli

import (
	"context"
	"fmt"
)

// ScopeCmd groups the pipe scope commands.
type ScopeCmd struct {
	Get ScopeGetCmd `cmd:"" help:"Show whether a table is programmed per pipe."`
	Set ScopeSetCmd `cmd:"" help:"Change a table's pipe scope. The table must be empty."`
}

// ScopeGetCmd reads a table's scope.
type ScopeGetCmd struct {
	TableArg
}

// Run executes the scope get command.
func (c *ScopeGetCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	scope, err := b.GetScope(ctx, cli.Ref(c.Table))
	if err != nil {
		return err
	}
	return cli.PrintOutf("%s\n", scope)
}

// ScopeSetCmd changes a table's scope.
type ScopeSetCmd struct {
	TableArg
	Scope ScopeArg `arg:"" help:"all-pipes or single-pipe."`
}

// Run executes the scope set command.
func (c *ScopeSetCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.SetScope(ctx, cli.Ref(c.Table), c.Scope.Value)
}
