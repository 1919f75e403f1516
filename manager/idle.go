package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/action"
)

// IdleCallback receives a notify-mode timeout with the key of the entry
// that aged out. It runs on the table's worker pool. It must not change
// the idle attributes of its own table.
type IdleCallback func(ctx context.Context, tgt bfrt.Target, key *bfrt.Key, cookie any)

// IdleSimpleCallback receives a notify-mode timeout with the handle of
// the entry that aged out. It runs inline on the device event goroutine
// and must not block.
type IdleSimpleCallback func(tgt bfrt.Target, h bfrt.EntryHandle, cookie any)

// IdleAttributes is the aging configuration of a table. In notify mode
// exactly one of Callback and SimpleCallback is set. Durations are in
// milliseconds.
type IdleAttributes struct {
	Mode           bfrt.IdleMode
	Enabled        bool
	QueryInterval  uint32
	MaxTTL         uint32
	MinTTL         uint32
	Callback       IdleCallback
	SimpleCallback IdleSimpleCallback
	Cookie         any
}

func (a IdleAttributes) config() bfrt.IdleConfig {
	return bfrt.IdleConfig{
		Mode:          a.Mode,
		Enabled:       a.Enabled,
		QueryInterval: a.QueryInterval,
		MaxTTL:        a.MaxTTL,
		MinTTL:        a.MinTTL,
	}
}

func (a IdleAttributes) notifies() bool {
	return a.Mode == bfrt.IdleNotify && a.Enabled
}

func (a IdleAttributes) validate(table string) error {
	switch a.Mode {
	case bfrt.IdleDisabled, bfrt.IdlePoll, bfrt.IdleNotify:
	default:
		return fmt.Errorf("%w: table %s: unknown idle mode %d", bfrt.ErrInvalidArgument, table, a.Mode)
	}
	if a.MaxTTL != 0 && a.MinTTL > a.MaxTTL {
		return fmt.Errorf("%w: table %s: minimum ttl %dms above maximum %dms", bfrt.ErrInvalidArgument, table, a.MinTTL, a.MaxTTL)
	}
	if a.Callback != nil && a.SimpleCallback != nil {
		return fmt.Errorf("%w: table %s: set one idle callback, not both", bfrt.ErrInvalidArgument, table)
	}
	if a.notifies() && a.Callback == nil && a.SimpleCallback == nil {
		return fmt.Errorf("%w: table %s: notify mode needs a callback", bfrt.ErrInvalidArgument, table)
	}
	return nil
}

// idleState is the aging bundle of a table. The worker pool exists
// exactly while notify mode is enabled with a pooled callback. setMu
// serialises reconfiguration; mu guards the fields and is never held
// while a pool drains.
type idleState struct {
	setMu sync.Mutex
	mu    sync.Mutex
	tgt   bfrt.Target
	attrs IdleAttributes
	pool  *idlePool
}

// detachPool removes the worker pool from the bundle. The caller closes
// it with mu released so that running callbacks can read the bundle.
func (s *idleState) detachPool() *idlePool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pool
	s.pool = nil
	return p
}

type idleJob struct {
	tgt bfrt.Target
	h   bfrt.EntryHandle
}

// idlePool runs timeout notifications on a bounded set of workers.
type idlePool struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan idleJob
	g      *errgroup.Group
	cancel context.CancelFunc
}

func newIdlePool(workers int, handle func(context.Context, idleJob)) *idlePool {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	p := &idlePool{
		jobs:   make(chan idleJob, workers*64),
		g:      g,
		cancel: cancel,
	}
	for range workers {
		g.Go(func() error {
			for j := range p.jobs {
				handle(ctx, j)
			}
			return nil
		})
	}
	return p
}

// submit queues a job. It reports false once the pool is closed.
func (p *idlePool) submit(j idleJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.jobs <- j
	return true
}

// close stops accepting jobs, lets the workers drain the queue and
// waits for them.
func (p *idlePool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	_ = p.g.Wait()
	p.cancel()
}

func (t *Table) newIdlePool(a IdleAttributes) *idlePool {
	if !a.notifies() || a.Callback == nil {
		return nil
	}
	cb, cookie := a.Callback, a.Cookie
	return newIdlePool(t.m.opts.IdleWorkers, func(ctx context.Context, j idleJob) {
		key, err := t.KeyOf(ctx, j.tgt, j.h)
		if err != nil {
			t.logger.DebugContext(ctx, "aged entry vanished before notification", "target", j.tgt, "handle", j.h, "error", err)
			return
		}
		cb(ctx, j.tgt, key, cookie)
		t.m.opts.Metrics.IdleNotification(t.schema.Name)
	})
}

// onIdleTimeout is registered with the device while notify mode is
// enabled. It runs on the device event goroutine.
func (t *Table) onIdleTimeout(tgt bfrt.Target, h bfrt.EntryHandle) {
	t.idle.mu.Lock()
	attrs, pool := t.idle.attrs, t.idle.pool
	t.idle.mu.Unlock()

	if attrs.SimpleCallback != nil {
		attrs.SimpleCallback(tgt, h, attrs.Cookie)
		t.m.opts.Metrics.IdleNotification(t.schema.Name)
		return
	}
	if pool == nil || !pool.submit(idleJob{tgt: tgt, h: h}) {
		t.logger.Debug("idle timeout dropped, no worker pool", "target", tgt, "handle", h)
	}
}

// SetIdleAttributes changes the aging configuration of the table. The
// transition is atomic: any worker pool is drained first, the new
// configuration is pushed to the device, and only then is the bundle
// recorded and a pool created if notify mode is enabled. If the device
// rejects the configuration the previous bundle and its pool are
// restored. Timeouts reported while the old pool drains are dropped.
func (t *Table) SetIdleAttributes(ctx context.Context, tgt bfrt.Target, attrs IdleAttributes) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "set_idle", start, err) }(time.Now())

	if !t.schema.Idle {
		return fmt.Errorf("%w: table %s does not support aging", bfrt.ErrNotSupported, t.schema.Name)
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return err
	}
	if err := attrs.validate(t.schema.Name); err != nil {
		return err
	}

	t.idle.setMu.Lock()
	defer t.idle.setMu.Unlock()

	if old := t.idle.detachPool(); old != nil {
		old.close()
	}

	cfg := attrs.config()
	if err := t.m.executor.Execute(ctx, action.SetIdleConfig{Table: t.schema.ID, Target: tgt, Config: cfg}); err != nil {
		t.idle.mu.Lock()
		t.idle.pool = t.newIdlePool(t.idle.attrs)
		running := t.idle.pool != nil
		t.idle.mu.Unlock()
		t.m.opts.Metrics.SetIdlePool(t.schema.Name, running)
		return fmt.Errorf("table %s: set idle config: %w", t.schema.Name, err)
	}

	pool := t.newIdlePool(attrs)
	t.idle.mu.Lock()
	t.idle.tgt = tgt
	t.idle.attrs = attrs
	t.idle.pool = pool
	t.idle.mu.Unlock()

	if attrs.notifies() {
		t.m.dev.RegisterIdleCallback(t.schema.ID, t.onIdleTimeout)
	} else {
		t.m.dev.RegisterIdleCallback(t.schema.ID, nil)
	}
	t.m.opts.Metrics.SetIdlePool(t.schema.Name, pool != nil)

	t.logger.InfoContext(ctx, "idle attributes changed",
		"target", tgt,
		"mode", attrs.Mode,
		"enabled", attrs.Enabled,
		"max_ttl_ms", attrs.MaxTTL,
		"min_ttl_ms", attrs.MinTTL,
		"pool", pool != nil)
	return nil
}

// IdleAttributes returns the aging configuration of the table. Tables
// never configured report disabled.
func (t *Table) IdleAttributes(ctx context.Context, tgt bfrt.Target) (IdleAttributes, error) {
	if !t.schema.Idle {
		return IdleAttributes{}, fmt.Errorf("%w: table %s does not support aging", bfrt.ErrNotSupported, t.schema.Name)
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return IdleAttributes{}, err
	}
	cfg, err := t.idleConfig(ctx, tgt)
	if err != nil {
		return IdleAttributes{}, err
	}

	t.idle.mu.Lock()
	defer t.idle.mu.Unlock()
	out := IdleAttributes{
		Mode:          cfg.Mode,
		Enabled:       cfg.Enabled,
		QueryInterval: cfg.QueryInterval,
		MaxTTL:        cfg.MaxTTL,
		MinTTL:        cfg.MinTTL,
	}
	if t.idle.tgt == tgt {
		out.Callback = t.idle.attrs.Callback
		out.SimpleCallback = t.idle.attrs.SimpleCallback
		out.Cookie = t.idle.attrs.Cookie
	}
	return out, nil
}

// IdlePoolRunning reports whether a notify-mode worker pool exists.
func (t *Table) IdlePoolRunning() bool {
	t.idle.mu.Lock()
	defer t.idle.mu.Unlock()
	return t.idle.pool != nil
}

func (t *Table) closeIdle() {
	t.idle.setMu.Lock()
	defer t.idle.setMu.Unlock()

	t.idle.mu.Lock()
	notifies := t.idle.attrs.notifies()
	t.idle.mu.Unlock()
	if notifies {
		t.m.dev.RegisterIdleCallback(t.schema.ID, nil)
	}
	if pool := t.idle.detachPool(); pool != nil {
		pool.close()
		t.m.opts.Metrics.SetIdlePool(t.schema.Name, false)
	}
}
