// Package manager is the entry lifecycle engine. It orchestrates table
// operations using the fetch/compute/execute pattern: read what the
// device holds, compute the writes with the pure functions in compute,
// then hand the writes to the interpreter.
//
// # Contexts
//
// A Manager is the explicit per-device context. It owns one Table per
// table schema, and each Table owns the state that would otherwise be
// process-wide: the pagination cursors of every session and the idle
// configuration bundle with its worker pool. Nothing in this package
// keeps global mutable state.
//
// # Transient buffers
//
// Action specs are pooled. Every operation acquires its spec and
// releases it with defer, so every return path gives the buffer back.
// The device layer only borrows a spec for the duration of one call.
//
// # Errors
//
// Operations return errors that match one of the bfrt error
// categories. Device errors are wrapped, never replaced; a device
// not-found is translated into the typed not-found error of whatever
// lookup failed so callers can branch on it.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/directory"
	"github.com/frobware/go-bfrt/interpreter"
	"github.com/frobware/go-bfrt/metrics"
)

// DefaultIdleWorkers bounds the notify-mode worker pool of a table when
// Options.IdleWorkers is zero.
const DefaultIdleWorkers = 4

// Options configure a Manager.
type Options struct {
	// IdleWorkers bounds the notify-mode worker pool of each table.
	IdleWorkers int
	// Metrics receives per-operation instrumentation. Nil disables it.
	Metrics *metrics.Metrics
}

// Manager is the table runtime of one device.
type Manager struct {
	dev      interpreter.Device
	executor interpreter.ActionExecutor
	program  *bfrt.Program
	opts     Options
	logger   *slog.Logger

	tables         map[string]*Table
	order          []string
	profiles       map[string]*bfrt.ProfileSchema
	actionProfiles map[string]*ActionProfile

	closeOnce sync.Once
}

// New brings up every table of a program on a device. Schemas are
// validated and their resource directories built once here.
func New(dev interpreter.Device, program *bfrt.Program, opts Options, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.IdleWorkers <= 0 {
		opts.IdleWorkers = DefaultIdleWorkers
	}
	m := &Manager{
		dev:            dev,
		executor:       interpreter.NewExecutor(dev),
		program:        program,
		opts:           opts,
		logger:         WithOpIDHandler(logger).With("component", "manager"),
		tables:         make(map[string]*Table, len(program.Tables)),
		profiles:       make(map[string]*bfrt.ProfileSchema, len(program.Profiles)),
		actionProfiles: make(map[string]*ActionProfile, len(program.Profiles)),
	}
	for _, ps := range program.Profiles {
		if _, dup := m.profiles[ps.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate action profile %q", bfrt.ErrInvalidArgument, ps.Name)
		}
		m.profiles[ps.Name] = ps
		m.actionProfiles[ps.Name] = newActionProfile(m, ps)
	}
	for _, ts := range program.Tables {
		if err := ts.Validate(); err != nil {
			return nil, fmt.Errorf("table %s: %w", ts.Name, err)
		}
		if _, dup := m.tables[ts.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate table %q", bfrt.ErrInvalidArgument, ts.Name)
		}
		if ts.Kind.Indirect() {
			if _, ok := program.Profile(ts.Profile); !ok {
				return nil, fmt.Errorf("%w: table %s references unknown action profile %d", bfrt.ErrInvalidArgument, ts.Name, ts.Profile)
			}
		}
		if ts.Kind == bfrt.KindMatchIndirectSelector {
			if ps, ok := program.Profile(ts.Selector); !ok || !ps.Selector {
				return nil, fmt.Errorf("%w: table %s references unknown selector %d", bfrt.ErrInvalidArgument, ts.Name, ts.Selector)
			}
		}
		m.tables[ts.Name] = newTable(m, ts, directory.New(ts))
		m.order = append(m.order, ts.Name)
	}
	m.logger.Info("manager started", "program", program.Name, "device", dev.ID(), "pipes", dev.Pipes(), "tables", len(m.tables))
	return m, nil
}

// Close stops every idle worker pool and unregisters the idle
// callbacks. The device is left open.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		for _, name := range m.order {
			m.tables[name].closeIdle()
		}
		m.logger.Info("manager stopped")
	})
	return nil
}

// Device returns the device the manager programs.
func (m *Manager) Device() interpreter.Device { return m.dev }

// Program returns the loaded program.
func (m *Manager) Program() *bfrt.Program { return m.program }

// Table returns the table context for a table name.
func (m *Manager) Table(name string) (*Table, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", bfrt.ErrObjectNotFound, name)
	}
	return t, nil
}

// Tables returns every table in program order.
func (m *Manager) Tables() []*Table {
	out := make([]*Table, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.tables[name])
	}
	return out
}

// TableNames returns the table names in sorted order.
func (m *Manager) TableNames() []string {
	names := slices.Clone(m.order)
	slices.Sort(names)
	return names
}

// ProfileNames returns the action profile names in sorted order.
func (m *Manager) ProfileNames() []string {
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TableUsage returns the installed entries of every table across all
// of its partitions.
func (m *Manager) TableUsage(ctx context.Context) (map[string]uint32, error) {
	out := make(map[string]uint32, len(m.tables))
	for _, t := range m.Tables() {
		n, err := t.usageAllPartitions(ctx)
		if err != nil {
			return out, fmt.Errorf("table %s: %w", t.Name(), err)
		}
		out[t.Name()] = n
	}
	return out, nil
}

func (m *Manager) observe(table, op string, start time.Time, err error) {
	m.opts.Metrics.ObserveOp(table, op, time.Since(start), err)
}
