// Package server implements the bfrt gRPC server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/frobware/go-bfrt/config"
	"github.com/frobware/go-bfrt/interpreter/store/sqlite"
	"github.com/frobware/go-bfrt/lock"
	"github.com/frobware/go-bfrt/manager"
	"github.com/frobware/go-bfrt/metrics"
	"github.com/frobware/go-bfrt/p4info"
)

// RunConfig configures the server daemon.
type RunConfig struct {
	Dirs       config.RuntimeDirs
	TCPAddress string // Optional TCP address (e.g., ":50052") for remote access
	Logger     *slog.Logger
	Config     config.Config
}

// Run starts the bfrt daemon with the given configuration. It holds
// the writer lock for its whole lifetime and returns when ctx is
// cancelled or a listener fails.
func Run(ctx context.Context, cfg RunConfig) error {
	dirs := cfg.Dirs

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	// op_id is generated per request by the interceptor below.
	logger = manager.WithOpIDHandler(logger)

	if cfg.Config.Device.Program == "" {
		return errors.New("device.program must name a P4Info file")
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("runtime directory setup failed: %w", err)
	}

	return lock.TryRun(ctx, dirs.Lock(), func(ctx context.Context, scope lock.WriterScope) error {
		logger.Info("writer lock acquired", "path", scope.Path())

		prog, err := p4info.Load(cfg.Config.Device.Program)
		if err != nil {
			return fmt.Errorf("load program: %w", err)
		}

		dev, err := OpenDevice(ctx, cfg.Config.Device, dirs, logger)
		if err != nil {
			return err
		}
		defer dev.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		mgr, err := manager.New(dev, prog, manager.Options{
			IdleWorkers: cfg.Config.Idle.Workers,
			Metrics:     metrics.New(reg),
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to start manager: %w", err)
		}
		defer mgr.Close()
		reg.MustRegister(metrics.NewUsageCollector(mgr, cfg.Config.Server.UsageTimeout.Std()))

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return dev.RunAging(ctx, cfg.Config.Idle.SweepInterval.Std())
		})
		if addr := cfg.Config.Server.MetricsAddr; addr != "" {
			g.Go(func() error {
				return serveMetrics(ctx, addr, reg, logger)
			})
		} else {
			logger.Info("metrics HTTP server disabled")
		}
		g.Go(func() error {
			return New(mgr, logger).Serve(ctx, dirs.SocketPath(), cfg.TCPAddress)
		})
		return g.Wait()
	})
}

// OpenDevice opens the device model a configuration names.
func OpenDevice(ctx context.Context, cfg config.DeviceConfig, dirs config.RuntimeDirs, logger *slog.Logger) (*sqlite.Device, error) {
	opts := sqlite.Options{ID: cfg.ID, Pipes: cfg.Pipes}
	if cfg.DB == config.MemoryDB {
		return sqlite.NewInMemory(ctx, opts, logger)
	}
	path := cfg.DB
	if path == "" {
		path = dirs.DBPath(cfg.ID)
	}
	dev, err := sqlite.New(ctx, path, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open device model at %s: %w", path, err)
	}
	return dev, nil
}

// serveMetrics serves /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics HTTP server listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Server implements the bfrt Tables gRPC service over a manager.
type Server struct {
	mgr       *manager.Manager
	logger    *slog.Logger
	opCounter atomic.Uint64

	watchMu  sync.Mutex
	watching map[string]bool
}

// New creates a server for a running manager.
func New(mgr *manager.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mgr:      mgr,
		logger:   manager.WithOpIDHandler(logger).With("component", "server"),
		watching: make(map[string]bool),
	}
}

// NewGRPCServer returns a gRPC server with the Tables service and the
// request interceptors registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.UnaryInterceptor(s.loggingInterceptor()),
		grpc.StreamInterceptor(s.streamInterceptor()),
	)
	g := grpc.NewServer(opts...)
	s.Register(g)
	return g
}

// Serve serves the service on a Unix socket and optionally on TCP
// until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, socketPath, tcpAddr string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	unixListener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	defer unixListener.Close()

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	grpcServer := s.NewGRPCServer()

	errChan := make(chan error, 2)

	go func() {
		s.logger.InfoContext(ctx, "bfrt gRPC server listening", "socket", socketPath)
		if err := grpcServer.Serve(unixListener); err != nil {
			errChan <- fmt.Errorf("unix socket server: %w", err)
		}
	}()

	if tcpAddr != "" {
		tcpListener, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			grpcServer.GracefulStop()
			return fmt.Errorf("failed to listen on TCP %s: %w", tcpAddr, err)
		}

		go func() {
			s.logger.InfoContext(ctx, "bfrt gRPC server listening", "tcp", tcpAddr)
			if err := grpcServer.Serve(tcpListener); err != nil {
				errChan <- fmt.Errorf("tcp server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gRPC server")
		grpcServer.GracefulStop()
		return nil
	case err := <-errChan:
		grpcServer.Stop()
		return err
	}
}

// loggingInterceptor returns a gRPC unary interceptor that assigns a
// monotonic operation ID to each request, maps errors to status codes
// and logs them.
func (s *Server) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		opID := s.opCounter.Add(1)
		ctx = manager.ContextWithOpID(ctx, opID)
		resp, err := handler(ctx, req)
		if err != nil {
			s.logger.DebugContext(ctx, "grpc error", "method", info.FullMethod, "error", err)
			return nil, toStatus(err)
		}
		return resp, nil
	}
}

func (s *Server) streamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := handler(srv, ss); err != nil {
			s.logger.Debug("grpc stream error", "method", info.FullMethod, "error", err)
			return toStatus(err)
		}
		return nil
	}
}
