package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/interpreter"
	"github.com/frobware/go-bfrt/interpreter/store"
)

func (d *Device) idleConfigTx(ctx context.Context, tx *sql.Tx, table bfrt.TableID, tgt bfrt.Target) (bfrt.IdleConfig, error) {
	q := d.stmts.getIdleConfig
	if tx != nil {
		q = tx.StmtContext(ctx, q)
	}
	var (
		cfg     bfrt.IdleConfig
		mode    int64
		enabled bool
	)
	start := time.Now()
	err := q.QueryRowContext(ctx, uint32(table), tgt.Pipe).Scan(&mode, &enabled, &cfg.QueryInterval, &cfg.MaxTTL, &cfg.MinTTL)
	d.trace("GetIdleConfig", start, err, "table", table, "target", tgt)
	if errors.Is(err, sql.ErrNoRows) {
		return bfrt.IdleConfig{Mode: bfrt.IdleDisabled}, nil
	}
	if err != nil {
		return bfrt.IdleConfig{}, fmt.Errorf("get idle config: %w", err)
	}
	cfg.Mode = bfrt.IdleMode(mode)
	cfg.Enabled = enabled
	return cfg, nil
}

// SetIdleConfig stores the aging configuration of a table.
func (d *Device) SetIdleConfig(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, cfg bfrt.IdleConfig) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	start := time.Now()
	_, err := d.stmts.saveIdleConfig.ExecContext(ctx, uint32(table), tgt.Pipe,
		uint8(cfg.Mode), cfg.Enabled, cfg.QueryInterval, cfg.MaxTTL, cfg.MinTTL)
	d.trace("SaveIdleConfig", start, err, "table", table, "target", tgt)
	if err != nil {
		return fmt.Errorf("save idle config: %w", err)
	}
	d.logger.Info("idle config changed", "table", table, "target", tgt, "mode", cfg.Mode, "enabled", cfg.Enabled)
	return nil
}

// IdleConfig returns the stored aging configuration. Tables never
// configured report disabled.
func (d *Device) IdleConfig(ctx context.Context, table bfrt.TableID, tgt bfrt.Target) (bfrt.IdleConfig, error) {
	if err := d.checkTarget(tgt); err != nil {
		return bfrt.IdleConfig{}, err
	}
	return d.idleConfigTx(ctx, nil, table, tgt)
}

// SetIdle sets the TTL of an entry in notify mode or its hit state in
// poll mode. In notify mode reset restarts the timer at the new TTL;
// otherwise the remaining time is only clamped to it.
func (d *Device) SetIdle(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, value uint32, reset bool) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		cfg, err := d.idleConfigTx(ctx, tx, table, tgt)
		if err != nil {
			return err
		}
		if !cfg.Active() {
			return fmt.Errorf("%w: aging is not enabled on table %d", bfrt.ErrNotSupported, table)
		}

		var (
			stmt *sql.Stmt
			name string
		)
		switch {
		case cfg.Mode == bfrt.IdleNotify && reset:
			stmt, name = d.stmts.setTTLReset, "SetTTLReset"
		case cfg.Mode == bfrt.IdleNotify:
			stmt, name = d.stmts.setTTLKeep, "SetTTLKeep"
		default:
			stmt, name = d.stmts.setHit, "SetHit"
		}
		start := time.Now()
		res, err := tx.StmtContext(ctx, stmt).ExecContext(ctx, value, uint32(h), uint32(table), tgt.Pipe)
		d.trace(name, start, err, "handle", h, "value", value)
		if err != nil {
			return fmt.Errorf("set idle: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// RegisterIdleCallback installs the timeout callback of a table. A nil
// callback unregisters.
func (d *Device) RegisterIdleCallback(table bfrt.TableID, cb interpreter.IdleCallback) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	if cb == nil {
		delete(d.callbacks, table)
		return
	}
	d.callbacks[table] = cb
}

func (d *Device) callback(table bfrt.TableID) interpreter.IdleCallback {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	return d.callbacks[table]
}

// MarkHit records traffic on an entry: the hit state becomes active and
// a running notify-mode timer restarts.
func (d *Device) MarkHit(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	start := time.Now()
	res, err := d.stmts.markHit.ExecContext(ctx, uint32(h), uint32(table), tgt.Pipe)
	d.trace("MarkHit", start, err, "handle", h)
	if err != nil {
		return fmt.Errorf("mark hit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type expiry struct {
	table   bfrt.TableID
	tgt     bfrt.Target
	handles []bfrt.EntryHandle
}

// Sweep advances every enabled notify-mode timer by elapsed and invokes
// the table callback once for each entry whose timer reached zero. An
// expired entry is reported once; it is reported again only after its
// timer is restarted.
func (d *Device) Sweep(ctx context.Context, elapsed time.Duration) error {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return nil
	}

	type scope struct {
		table bfrt.TableID
		pipe  uint16
	}
	var scopes []scope
	rows, err := d.stmts.notifyConfigs.QueryContext(ctx, uint8(bfrt.IdleNotify))
	if err != nil {
		return fmt.Errorf("list notify tables: %w", err)
	}
	for rows.Next() {
		var s scope
		if err := rows.Scan(&s.table, &s.pipe); err != nil {
			rows.Close()
			return fmt.Errorf("scan notify table: %w", err)
		}
		scopes = append(scopes, s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return fmt.Errorf("list notify tables: %w", err)
	}

	var expired []expiry
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		age := tx.StmtContext(ctx, d.stmts.ageEntries)
		expire := tx.StmtContext(ctx, d.stmts.expireEntries)
		for _, s := range scopes {
			if _, err := age.ExecContext(ctx, ms, uint32(s.table), s.pipe); err != nil {
				return fmt.Errorf("age entries: %w", err)
			}
			rows, err := expire.QueryContext(ctx, uint32(s.table), s.pipe)
			if err != nil {
				return fmt.Errorf("expire entries: %w", err)
			}
			e := expiry{table: s.table, tgt: bfrt.Target{Device: d.id, Pipe: s.pipe}}
			for rows.Next() {
				var h int64
				if err := rows.Scan(&h); err != nil {
					rows.Close()
					return fmt.Errorf("scan expired handle: %w", err)
				}
				e.handles = append(e.handles, bfrt.EntryHandle(h))
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				return fmt.Errorf("expire entries: %w", err)
			}
			if len(e.handles) > 0 {
				expired = append(expired, e)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range expired {
		d.logger.Debug("idle timeout", "table", e.table, "target", e.tgt, "entries", len(e.handles))
		cb := d.callback(e.table)
		if cb == nil {
			continue
		}
		for _, h := range e.handles {
			cb(e.tgt, h)
		}
	}
	return nil
}

// RunAging sweeps every interval until ctx is cancelled. Sweep errors
// are logged and do not stop the loop.
func (d *Device) RunAging(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("%w: aging interval must be positive", bfrt.ErrInvalidArgument)
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	d.logger.Info("aging started", "interval", every)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("aging stopped")
			return nil
		case <-ticker.C:
			if err := d.Sweep(ctx, every); err != nil && ctx.Err() == nil {
				d.logger.Warn("aging sweep failed", "error", err)
			}
		}
	}
}

// EntryScope returns the pipe partitioning of a table. Tables never
// configured are symmetric.
func (d *Device) EntryScope(ctx context.Context, table bfrt.TableID) (bfrt.EntryScope, error) {
	var scope int64
	start := time.Now()
	err := d.stmts.getScope.QueryRowContext(ctx, uint32(table)).Scan(&scope)
	d.trace("GetScope", start, err, "table", table)
	if errors.Is(err, sql.ErrNoRows) {
		return bfrt.ScopeAllPipes, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get entry scope: %w", err)
	}
	return bfrt.EntryScope(scope), nil
}

// SetEntryScope stores the pipe partitioning of a table.
func (d *Device) SetEntryScope(ctx context.Context, table bfrt.TableID, scope bfrt.EntryScope) error {
	start := time.Now()
	_, err := d.stmts.saveScope.ExecContext(ctx, uint32(table), uint8(scope))
	d.trace("SaveScope", start, err, "table", table, "scope", scope)
	if err != nil {
		return fmt.Errorf("save entry scope: %w", err)
	}
	d.logger.Info("entry scope changed", "table", table, "scope", scope)
	return nil
}
