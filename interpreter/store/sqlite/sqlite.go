// Package sqlite provides a SQLite-backed model of a device's hardware
// resource layer: match tables, default entries, action profiles,
// selector groups and the idle-time engine.
//
// # Handles
//
// Entries, members and groups take their handle from an AUTOINCREMENT
// primary key. Handles therefore grow monotonically and are never
// reused, which gives the successor iteration used by pagination a
// stable order: NextHandles(h) is simply every handle above h.
//
// # Transactions
//
// Writes that touch more than one row (an entry and its resource
// attachments, a group and its membership) run in a single transaction
// through withTx. Transaction-bound statements are derived from the
// prepared masters with tx.StmtContext, so no SQL is parsed per call.
//
// # In-memory databases
//
// Every connection to ":memory:" opens a distinct database, so the
// in-memory model is restricted to one connection. Statements must
// therefore never be issued against the pool while a transaction or a
// result set is open; helpers collect rows before returning them.
//
// # Idle notifications
//
// Aging is simulated: Sweep advances every notify-mode timer by the
// elapsed time and fires the registered callback for each entry whose
// timer expired. RunAging calls Sweep on a ticker. Callbacks run on
// the sweeping goroutine after the database work is committed.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/interpreter"
)

// msec formats a duration as milliseconds with 3 decimal places.
func msec(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d.Microseconds())/1000)
}

//go:embed schema.sql
var schemaSQL string

// Device implements interpreter.Device on SQLite.
type Device struct {
	db     *sql.DB
	id     uint32
	pipes  uint16
	logger *slog.Logger
	stmts  statements

	cbMu      sync.Mutex
	callbacks map[bfrt.TableID]interpreter.IdleCallback
}

var _ interpreter.Device = (*Device)(nil)

// Options configure a device model.
type Options struct {
	// ID is the device id reported to callers.
	ID uint32
	// Pipes is the number of pipes; must be at least 1.
	Pipes uint16
}

// New opens or creates a device model backed by the database at path.
func New(ctx context.Context, path string, opts Options, logger *slog.Logger) (*Device, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open(driverName, dsn(path, [][2]string{
		{"journal_mode", "WAL"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return open(ctx, db, path, opts, logger)
}

// NewInMemory creates an in-memory device model for testing.
func NewInMemory(ctx context.Context, opts Options, logger *slog.Logger) (*Device, error) {
	db, err := sql.Open(driverName, dsn(":memory:", [][2]string{{"foreign_keys", "1"}}))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(ctx, db, ":memory:", opts, logger)
}

func open(ctx context.Context, db *sql.DB, path string, opts Options, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Pipes == 0 {
		db.Close()
		return nil, fmt.Errorf("%w: device needs at least one pipe", bfrt.ErrInvalidArgument)
	}
	d := &Device{
		db:        db,
		id:        opts.ID,
		pipes:     opts.Pipes,
		logger:    logger.With("component", "store", "db", path, "device", opts.ID),
		callbacks: make(map[bfrt.TableID]interpreter.IdleCallback),
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := d.stmts.prepare(ctx, db); err != nil {
		d.stmts.close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	d.logger.Info("opened device model", "pipes", opts.Pipes)
	return d, nil
}

// Close closes all prepared statements and the database connection.
func (d *Device) Close() error {
	d.stmts.close()
	return d.db.Close()
}

// ID returns the device id.
func (d *Device) ID() uint32 { return d.id }

// Pipes returns the number of pipes.
func (d *Device) Pipes() uint16 { return d.pipes }

// withTx runs fn in a transaction, committing if it returns nil.
func (d *Device) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// trace logs one statement execution at debug level.
func (d *Device) trace(stmt string, start time.Time, err error, args ...any) {
	if err != nil {
		d.logger.Debug("sql", "stmt", stmt, "args", args, "duration_ms", msec(time.Since(start)), "error", err)
		return
	}
	d.logger.Debug("sql", "stmt", stmt, "args", args, "duration_ms", msec(time.Since(start)))
}

// pipesCovered returns how many pipes a target addresses.
func (d *Device) pipesCovered(tgt bfrt.Target) int {
	if tgt.Pipe == bfrt.AllPipes {
		return int(d.pipes)
	}
	return 1
}

func (d *Device) checkTarget(tgt bfrt.Target) error {
	if tgt.Device != d.id {
		return fmt.Errorf("%w: target device %d, model is device %d", bfrt.ErrInvalidArgument, tgt.Device, d.id)
	}
	if tgt.Pipe != bfrt.AllPipes && tgt.Pipe >= d.pipes {
		return fmt.Errorf("%w: pipe %d out of range, device has %d", bfrt.ErrInvalidArgument, tgt.Pipe, d.pipes)
	}
	return nil
}

// i64 stores an unsigned value in a signed SQLite integer column
// without losing the high bit.
func i64(v uint64) int64 { return int64(v) }
