package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/frobware/go-bfrt/config"
	"github.com/frobware/go-bfrt/interpreter/store/sqlite"
	"github.com/frobware/go-bfrt/lock"
	"github.com/frobware/go-bfrt/manager"
	"github.com/frobware/go-bfrt/p4info"
	"github.com/frobware/go-bfrt/server"
)

// ephemeralClient spawns an in-process gRPC server and connects to it.
// This ensures CLI commands use the same code path as remote clients,
// making gRPC handlers the canonical implementation.
type ephemeralClient struct {
	*remoteClient

	dev        *sqlite.Device
	mgr        *manager.Manager
	grpcServer *grpc.Server
	socketPath string // Cleaned up on Close
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lockErr    chan error
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// newEphemeral creates a Client that spawns an in-process gRPC
// server using a temporary Unix socket.
func newEphemeral(dirs config.RuntimeDirs, cfg config.Config, logger *slog.Logger) (_ Client, err error) {
	if cfg.Device.Program == "" {
		return nil, errors.New("no program: set device.program or use WithProgram")
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("setup runtime: %w", err)
	}
	prog, err := p4info.Load(cfg.Device.Program)
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &ephemeralClient{
		cancel:  cancel,
		lockErr: make(chan error, 1),
		logger:  logger,
	}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	// The lock is held by a goroutine for the lifetime of the client.
	held := make(chan struct{})
	go func() {
		e.lockErr <- lock.TryRun(ctx, dirs.Lock(), func(ctx context.Context, _ lock.WriterScope) error {
			close(held)
			<-ctx.Done()
			return nil
		})
	}()
	select {
	case <-held:
	case err := <-e.lockErr:
		e.lockErr <- err
		return nil, fmt.Errorf("runtime %s is in use: %w", dirs.Base(), err)
	}

	e.dev, err = server.OpenDevice(ctx, cfg.Device, dirs, logger)
	if err != nil {
		return nil, err
	}
	e.mgr, err = manager.New(e.dev, prog, manager.Options{IdleWorkers: cfg.Idle.Workers}, logger)
	if err != nil {
		return nil, fmt.Errorf("start manager: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.dev.RunAging(ctx, cfg.Idle.SweepInterval.Std()); err != nil {
			logger.Error("ephemeral aging stopped", "error", err)
		}
	}()

	// Use a unique name based on time and PID to avoid conflicts
	socketPath := filepath.Join(os.TempDir(), fmt.Sprintf("bfrt-ephemeral-%d-%d.sock", os.Getpid(), time.Now().UnixNano()))
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on socket %s: %w", socketPath, err)
	}
	e.socketPath = socketPath

	e.grpcServer = server.New(e.mgr, logger).NewGRPCServer()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.grpcServer.Serve(listener); err != nil {
			// Ignore error from GracefulStop
			select {
			case <-ctx.Done():
				return
			default:
				logger.Error("ephemeral server failed", "error", err)
			}
		}
	}()

	// Connect remoteClient to the ephemeral server
	e.remoteClient, err = newRemote(socketPath, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to ephemeral server: %w", err)
	}
	return e, nil
}

// Close shuts down the ephemeral server and releases all resources,
// the writer lock last.
func (e *ephemeralClient) Close() error {
	e.closeOnce.Do(func() { e.closeErr = e.close() })
	return e.closeErr
}

func (e *ephemeralClient) close() error {
	if e.remoteClient != nil {
		e.remoteClient.Close()
	}
	if e.grpcServer != nil {
		e.grpcServer.GracefulStop()
	}
	e.cancel()
	e.wg.Wait()
	if e.mgr != nil {
		e.mgr.Close()
	}
	if e.dev != nil {
		e.dev.Close()
	}
	if e.socketPath != "" {
		if err := os.Remove(e.socketPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("failed to remove socket during close", "path", e.socketPath, "error", err)
		}
	}
	return <-e.lockErr
}
