package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/client"
)

// EntryCmd groups the table entry commands.
type EntryCmd struct {
	Add      EntryAddCmd      `cmd:"" help:"Add an entry."`
	Mod      EntryModCmd      `cmd:"" help:"Modify an entry."`
	AddOrMod EntryAddOrModCmd `cmd:"" name:"add-or-mod" help:"Add an entry or modify it if present."`
	Del      EntryDelCmd      `cmd:"" help:"Delete an entry."`
	Get      EntryGetCmd      `cmd:"" help:"Read an entry by key or handle."`
	List     EntryListCmd     `cmd:"" help:"List every entry of a table."`
	Page     EntryPageCmd     `cmd:"" help:"Read a batch of entries, resuming a session."`
	Clear    EntryClearCmd    `cmd:"" help:"Delete every entry of a table."`
}

// DataArgs are the data fields of an entry. "action=NAME" selects the
// action.
type DataArgs struct {
	Data []string `arg:"" optional:"" sep:"none" help:"NAME=VALUE data field; action=NAME selects the action."`
}

// EntryAddCmd adds an entry.
type EntryAddCmd struct {
	TableArg
	KeyFlags
	DataArgs
}

// Run executes the entry add command.
func (c *EntryAddCmd) Run(cli *CLI, ctx context.Context) error {
	key, err := items(c.Key)
	if err != nil {
		return err
	}
	data, err := items(c.Data)
	if err != nil {
		return err
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	h, err := b.AddEntry(ctx, cli.Ref(c.Table), key, data)
	if err != nil {
		return err
	}
	return cli.PrintOutf("handle: %d\n", h)
}

// EntryModCmd modifies an entry.
type EntryModCmd struct {
	TableArg
	KeyFlags
	DataArgs
	Selected bool `name:"selected" help:"Touch only the given fields."`
}

// Run executes the entry mod command.
func (c *EntryModCmd) Run(cli *CLI, ctx context.Context) error {
	key, err := items(c.Key)
	if err != nil {
		return err
	}
	data, err := items(c.Data)
	if err != nil {
		return err
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.ModifyEntry(ctx, cli.Ref(c.Table), key, data, c.Selected)
}

// EntryAddOrModCmd adds or modifies an entry.
type EntryAddOrModCmd struct {
	TableArg
	KeyFlags
	DataArgs
}

// Run executes the entry add-or-mod command.
func (c *EntryAddOrModCmd) Run(cli *CLI, ctx context.Context) error {
	key, err := items(c.Key)
	if err != nil {
		return err
	}
	data, err := items(c.Data)
	if err != nil {
		return err
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	added, err := b.AddOrModifyEntry(ctx, cli.Ref(c.Table), key, data)
	if err != nil {
		return err
	}
	if added {
		return cli.PrintOut("added\n")
	}
	return cli.PrintOut("modified\n")
}

// EntryDelCmd deletes an entry.
type EntryDelCmd struct {
	TableArg
	KeyFlags
}

// Run executes the entry del command.
func (c *EntryDelCmd) Run(cli *CLI, ctx context.Context) error {
	key, err := items(c.Key)
	if err != nil {
		return err
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.DeleteEntry(ctx, cli.Ref(c.Table), key)
}

// EntryGetCmd reads one entry.
type EntryGetCmd struct {
	TableArg
	KeyFlags
	OutputFlags
	Fields []string `name:"field" short:"f" sep:"none" help:"Read only this field (can be repeated); action=NAME selects the action."`
	Handle uint32   `name:"handle" help:"Read the entry with this handle instead of by key."`
}

// Run executes the entry get command.
func (c *EntryGetCmd) Run(cli *CLI, ctx context.Context) error {
	key, err := items(c.Key)
	if err != nil {
		return err
	}
	if len(key) > 0 && c.Handle != 0 {
		return fmt.Errorf("--key and --handle are mutually exclusive")
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	var e client.Entry
	if c.Handle != 0 {
		e, err = b.GetEntryByHandle(ctx, cli.Ref(c.Table), bfrt.EntryHandle(c.Handle))
	} else {
		e, err = b.GetEntry(ctx, cli.Ref(c.Table), key, c.Fields)
	}
	if err != nil {
		return err
	}

	output, err := FormatEntries([]client.Entry{e}, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// EntryListCmd lists a table.
type EntryListCmd struct {
	TableArg
	OutputFlags
}

// Run executes the entry list command.
func (c *EntryListCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	entries, err := b.ListEntries(ctx, cli.Ref(c.Table))
	if err != nil {
		return err
	}
	if len(entries) == 0 && c.Format() == OutputFormatTable {
		return cli.PrintOut("No entries found\n")
	}

	output, err := FormatEntries(entries, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// EntryPageCmd reads one batch of entries. Without --key the batch
// starts at the first entry, otherwise after the keyed entry.
type EntryPageCmd struct {
	TableArg
	KeyFlags
	OutputFlags
	Session string `name:"session" help:"Session returned by an earlier page."`
	Count   uint32 `name:"count" short:"n" help:"Number of entries to read." default:"16"`
}

// Run executes the entry page command.
func (c *EntryPageCmd) Run(cli *CLI, ctx context.Context) error {
	after, err := items(c.Key)
	if err != nil {
		return err
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	page, err := b.GetEntries(ctx, cli.Ref(c.Table), c.Session, after, c.Count)
	if err != nil {
		return err
	}
	output, err := FormatPage(page, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// EntryClearCmd clears a table.
type EntryClearCmd struct {
	TableArg
}

// Run executes the entry clear command.
func (c *EntryClearCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.ClearTable(ctx, cli.Ref(c.Table))
}
