package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frobware/go-bfrt/action"
	"github.com/frobware/go-bfrt/interpreter"
)

// undoStack records the compensating writes of a multi-step operation.
// They run newest first when a later step fails.
type undoStack []action.Action

// push records the write that reverses the step just taken.
func (u *undoStack) push(a action.Action) {
	*u = append(*u, a)
}

// rollback executes every compensating write, newest first. A failing
// write does not stop the remaining ones; all failures are returned
// joined.
func (u undoStack) rollback(ctx context.Context, exec interpreter.ActionExecutor, logger *slog.Logger) error {
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		if err := exec.Execute(ctx, u[i]); err != nil {
			logger.ErrorContext(ctx, "rollback step failed", "step", i, "action", fmt.Sprintf("%T", u[i]), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
