package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/interpreter/store"
)

// Default entries are stored whole, resources included, as one JSON
// document per table and pipe. A missing row means the program-declared
// default is in effect.

// SetDefaultEntry programs the default action of a table.
func (d *Device) SetDefaultEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, spec *bfrt.ActionSpec) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	stored := spec.Clone()
	stored.Resources = stored.Resources[:0]
	for _, r := range spec.Resources {
		if r.Tag == bfrt.TagRemoved {
			continue
		}
		r.Tag = bfrt.TagAttached
		if len(r.Register.Values) > 1 {
			r.Register.Values = r.Register.Values[:1]
		}
		stored.Resources = append(stored.Resources, r)
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal default entry: %w", err)
	}
	start := time.Now()
	_, err = d.stmts.saveDefault.ExecContext(ctx, uint32(table), tgt.Pipe, string(b))
	d.trace("SaveDefault", start, err, "table", table, "target", tgt)
	if err != nil {
		return fmt.Errorf("save default entry: %w", err)
	}
	d.logger.Debug("set default entry", "table", table, "target", tgt, "action", spec.ActionID)
	return nil
}

// GetDefaultEntry reads the programmed default action. Direct resources
// are filtered by mask and registers are replicated per covered pipe.
func (d *Device) GetDefaultEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, mask bfrt.FetchMask) (bfrt.ActionSpec, error) {
	if err := d.checkTarget(tgt); err != nil {
		return bfrt.ActionSpec{}, err
	}
	var s string
	start := time.Now()
	err := d.stmts.getDefault.QueryRowContext(ctx, uint32(table), tgt.Pipe).Scan(&s)
	d.trace("GetDefault", start, err, "table", table, "target", tgt)
	if errors.Is(err, sql.ErrNoRows) {
		return bfrt.ActionSpec{}, store.ErrNotFound
	}
	if err != nil {
		return bfrt.ActionSpec{}, fmt.Errorf("get default entry: %w", err)
	}
	var stored bfrt.ActionSpec
	if err := json.Unmarshal([]byte(s), &stored); err != nil {
		return bfrt.ActionSpec{}, fmt.Errorf("unmarshal default entry: %w", err)
	}

	pipes := d.pipesCovered(tgt)
	out := stored
	out.Resources = nil
	for _, r := range stored.Resources {
		row := rowFromSpec(r)
		if wanted(row, mask) {
			out.Resources = append(out.Resources, row.spec(pipes))
		}
	}
	return out, nil
}

// ResetDefaultEntry drops the programmed default action. Resetting a
// table whose default was never programmed is not an error.
func (d *Device) ResetDefaultEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	start := time.Now()
	_, err := d.stmts.deleteDefault.ExecContext(ctx, uint32(table), tgt.Pipe)
	d.trace("DeleteDefault", start, err, "table", table, "target", tgt)
	if err != nil {
		return fmt.Errorf("reset default entry: %w", err)
	}
	d.logger.Debug("reset default entry", "table", table, "target", tgt)
	return nil
}
