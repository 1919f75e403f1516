package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-bfrt"
)

// MemberCmd groups the action profile member commands.
type MemberCmd struct {
	Add  MemberAddCmd  `cmd:"" help:"Add a member."`
	Del  MemberDelCmd  `cmd:"" help:"Delete a member."`
	Get  MemberGetCmd  `cmd:"" help:"Read a member's action."`
	List MemberListCmd `cmd:"" help:"List member ids."`
}

// ProfileArg names the action profile a command addresses.
type ProfileArg struct {
	Profile string `arg:"" help:"Action profile name."`
}

// MemberAddCmd adds a member.
type MemberAddCmd struct {
	ProfileArg
	ID uint32 `arg:"" help:"Member id."`
	DataArgs
}

// Run executes the member add command.
func (c *MemberAddCmd) Run(cli *CLI, ctx context.Context) error {
	data, err := items(c.Data)
	if err != nil {
		return err
	}

	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	h, err := b.AddMember(ctx, cli.Ref(c.Profile), bfrt.MemberID(c.ID), data)
	if err != nil {
		return err
	}
	return cli.PrintOutf("handle: %d\n", h)
}

// MemberDelCmd deletes a member.
type MemberDelCmd struct {
	ProfileArg
	ID uint32 `arg:"" help:"Member id."`
}

// Run executes the member del command.
func (c *MemberDelCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.DeleteMember(ctx, cli.Ref(c.Profile), bfrt.MemberID(c.ID))
}

// MemberGetCmd reads a member.
type MemberGetCmd struct {
	ProfileArg
	OutputFlags
	ID uint32 `arg:"" help:"Member id."`
}

// Run executes the member get command.
func (c *MemberGetCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	data, err := b.GetMember(ctx, cli.Ref(c.Profile), bfrt.MemberID(c.ID))
	if err != nil {
		return err
	}
	output, err := FormatItems(data, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// MemberListCmd lists members.
type MemberListCmd struct {
	ProfileArg
	OutputFlags
}

// Run executes the member list command.
func (c *MemberListCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	ids, err := b.ListMembers(ctx, cli.Ref(c.Profile))
	if err != nil {
		return err
	}
	output, err := FormatMembers(ids, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// GroupCmd groups the selector group commands.
type GroupCmd struct {
	Add  GroupAddCmd  `cmd:"" help:"Add a group."`
	Set  GroupSetCmd  `cmd:"" help:"Replace a group's members."`
	Del  GroupDelCmd  `cmd:"" help:"Delete a group."`
	List GroupListCmd `cmd:"" help:"List groups."`
}

// GroupAddCmd adds a group.
type GroupAddCmd struct {
	ProfileArg
	ID      uint32     `arg:"" help:"Group id."`
	MaxSize uint32     `name:"max-size" help:"Largest member count. Zero takes the selector's limit."`
	Members MemberList `name:"members" short:"m" help:"Comma separated member ids."`
}

// Run executes the group add command.
func (c *GroupAddCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	h, err := b.AddGroup(ctx, cli.Ref(c.Profile), bfrt.GroupID(c.ID), c.MaxSize, c.Members.Value)
	if err != nil {
		return err
	}
	return cli.PrintOutf("handle: %d\n", h)
}

// GroupSetCmd replaces a group's members.
type GroupSetCmd struct {
	ProfileArg
	ID      uint32     `arg:"" help:"Group id."`
	Members MemberList `arg:"" optional:"" help:"Comma separated member ids. Empty clears the group."`
}

// Run executes the group set command.
func (c *GroupSetCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.SetGroupMembers(ctx, cli.Ref(c.Profile), bfrt.GroupID(c.ID), c.Members.Value)
}

// GroupDelCmd deletes a group.
type GroupDelCmd struct {
	ProfileArg
	ID uint32 `arg:"" help:"Group id."`
}

// Run executes the group del command.
func (c *GroupDelCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	return b.DeleteGroup(ctx, cli.Ref(c.Profile), bfrt.GroupID(c.ID))
}

// GroupListCmd lists groups.
type GroupListCmd struct {
	ProfileArg
	OutputFlags
}

// Run executes the group list command.
func (c *GroupListCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer b.Close()

	groups, err := b.ListGroups(ctx, cli.Ref(c.Profile))
	if err != nil {
		return err
	}
	output, err := FormatGroups(groups, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
