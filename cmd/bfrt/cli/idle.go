package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/client"
	"github.com/frobware/go-bfrt/entryfmt"
)

// IdleCmd groups the aging commands.
type IdleCmd struct {
	Get   IdleGetCmd   `cmd:"" help:"Show a table's aging configuration."`
	Set   IdleSetCmd   `cmd:"" help:"Configure poll mode aging or switch aging off."`
	Watch IdleWatchCmd `cmd:"" help:"Age entries in notify mode and print every timeout."`
}

// IdleGetCmd reads the aging configuration.
type IdleGetCmd struct {
	TableArg
	OutputFlags
}

// Run executes the idle get command.
func (c *IdleGetCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	cfg, err := b.GetIdle(ctx, cli.Ref(c.Table))
	if err != nil {
		return err
	}
	output, err := FormatIdle(cfg, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// IdleSetCmd writes the aging configuration. Notify mode needs a
// watcher and is configured by idle watch.
type IdleSetCmd struct {
	TableArg
	AgingFlags
	Mode IdleModeArg `name:"mode" help:"Aging mode: disabled or poll." default:"poll"`
}

// Run executes the idle set command.
func (c *IdleSetCmd) Run(cli *CLI, ctx context.Context) error {
	if c.Mode.Value == bfrt.IdleNotify {
		return errors.New("notify mode needs a watcher; use 'bfrt idle watch'")
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.SetIdle(ctx, cli.Ref(c.Table), c.Config(c.Mode.Value))
}

// IdleWatchCmd runs notify mode aging until interrupted.
type IdleWatchCmd struct {
	TableArg
	AgingFlags
}

// Run executes the idle watch command.
func (c *IdleWatchCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	// A failed write stops the watch.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	err = b.WatchIdle(ctx, cli.Ref(c.Table), c.Config(bfrt.IdleNotify), func(ev client.IdleTimeout) {
		if err := cli.PrintOutf("%s %s %s\n", ev.Table, ev.Target, entryfmt.Join(ev.Key)); err != nil {
			cancel(err)
		}
	})
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}
