package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/entryfmt"
	"github.com/frobware/go-bfrt/manager"
)

// watchBuffer bounds the timeouts queued for a slow watcher. The idle
// worker blocks once it is full.
var watchBuffer = 256

type idleEvent struct {
	tgt bfrt.Target
	key []entryfmt.Item
}

// watchIdle puts a table in notify mode and streams the key of every
// entry that ages out until the client goes away. Aging is disabled
// again when the stream ends. A table has at most one watcher.
func (s *Server) watchIdle(in *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	c, err := s.tableCall(in)
	if err != nil {
		return err
	}
	attrs, err := idleAttributes(c.req)
	if err != nil {
		return err
	}
	name := c.table.Name()

	s.watchMu.Lock()
	if s.watching[name] {
		s.watchMu.Unlock()
		return fmt.Errorf("%w: table %s already has an idle watcher", bfrt.ErrUnavailable, name)
	}
	s.watching[name] = true
	s.watchMu.Unlock()
	defer func() {
		s.watchMu.Lock()
		delete(s.watching, name)
		s.watchMu.Unlock()
	}()

	events := make(chan idleEvent, watchBuffer)
	// done releases callbacks blocked on a full buffer before aging is
	// disabled, whichever way the stream ends.
	done := make(chan struct{})
	attrs.Mode = bfrt.IdleNotify
	attrs.Enabled = true
	attrs.SimpleCallback = nil
	attrs.Callback = func(_ context.Context, tgt bfrt.Target, key *bfrt.Key, _ any) {
		ev := idleEvent{tgt: tgt, key: entryfmt.KeyItems(key)}
		select {
		case events <- ev:
		case <-done:
		case <-ctx.Done():
		}
	}
	if err := c.table.SetIdleAttributes(ctx, c.tgt, attrs); err != nil {
		return err
	}
	defer func() {
		// The stream context may still be live after a send error.
		if err := c.table.SetIdleAttributes(context.Background(), c.tgt, attrsDisabled()); err != nil {
			s.logger.Warn("failed to disable idle notifications", "table", name, "error", err)
		}
	}()
	defer close(done)
	s.logger.InfoContext(ctx, "idle watcher attached", "table", name, "target", c.tgt)

	// The header tells the client the table is in notify mode.
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("idle watcher detached", "table", name)
			return nil
		case ev := <-events:
			msg, err := response(map[string]any{
				FieldTable:  name,
				FieldTarget: ev.tgt.String(),
				FieldKey:    itemList(ev.key),
			})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func attrsDisabled() manager.IdleAttributes {
	return manager.IdleAttributes{Mode: bfrt.IdleDisabled}
}
