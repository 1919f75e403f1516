package interpreter

import (
	"context"
	"fmt"

	"github.com/frobware/go-bfrt/action"
)

// ActionExecutor executes reified actions.
type ActionExecutor interface {
	Execute(ctx context.Context, a action.Action) error
	ExecuteAll(ctx context.Context, actions []action.Action) error
}

// executor interprets and executes actions.
type executor struct {
	dev Device
}

// NewExecutor creates a new action executor.
func NewExecutor(dev Device) ActionExecutor {
	return &executor{dev: dev}
}

// Execute runs a single action.
func (e *executor) Execute(ctx context.Context, a action.Action) error {
	switch a := a.(type) {
	case action.SetAction:
		return e.dev.SetAction(ctx, a.Table, a.Target, a.Handle, a.Spec)

	case action.SetResources:
		return e.dev.SetResources(ctx, a.Table, a.Target, a.Handle, a.Resources)

	case action.SetDirectCounter:
		return e.dev.SetDirectCounter(ctx, a.Table, a.Target, a.Handle, a.Value)

	case action.SetIdle:
		return e.dev.SetIdle(ctx, a.Table, a.Target, a.Handle, a.Value, a.Reset)

	case action.DeleteEntry:
		return e.dev.DeleteEntry(ctx, a.Table, a.Target, a.Handle)

	case action.SetDefaultEntry:
		return e.dev.SetDefaultEntry(ctx, a.Table, a.Target, a.Spec)

	case action.ResetDefaultEntry:
		return e.dev.ResetDefaultEntry(ctx, a.Table, a.Target)

	case action.SetIdleConfig:
		return e.dev.SetIdleConfig(ctx, a.Table, a.Target, a.Config)

	case action.SetEntryScope:
		return e.dev.SetEntryScope(ctx, a.Table, a.Scope)

	case action.DeleteMember:
		return e.dev.DeleteMember(ctx, a.Profile, a.Target, a.Member)

	case action.DeleteGroup:
		return e.dev.DeleteGroup(ctx, a.Profile, a.Target, a.Group)

	case action.Sequence:
		return e.ExecuteAll(ctx, a.Actions)

	default:
		return fmt.Errorf("unknown action type: %T", a)
	}
}

// ExecuteAll runs multiple actions, stopping on first error.
func (e *executor) ExecuteAll(ctx context.Context, actions []action.Action) error {
	for _, a := range actions {
		if err := e.Execute(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
