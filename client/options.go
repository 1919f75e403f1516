package client

import (
	"io"
	"log/slog"

	"github.com/frobware/go-bfrt/config"
)

// DefaultSocketPath returns the Unix socket a bfrt daemon listens on
// with the built-in runtime directory.
func DefaultSocketPath() string {
	dirs, err := config.NewRuntimeDirs(config.DefaultConfig().Server.RuntimeDir)
	if err != nil {
		return ""
	}
	return dirs.SocketPath()
}

// Option configures client behaviour.
type Option interface {
	applyDial(*dialOptions)
	applyOpen(*openOptions)
}

// dialOptions holds configuration for Dial.
type dialOptions struct {
	logger *slog.Logger
}

// openOptions holds configuration for Open.
type openOptions struct {
	logger  *slog.Logger
	path    string
	program string
	config  config.Config
}

// funcOption implements Option using functions.
type funcOption struct {
	dial func(*dialOptions)
	open func(*openOptions)
}

func (f *funcOption) applyDial(o *dialOptions) {
	if f.dial != nil {
		f.dial(o)
	}
}

func (f *funcOption) applyOpen(o *openOptions) {
	if f.open != nil {
		f.open(o)
	}
}

// WithLogger sets the logger for client operations.
// If not specified, a no-op logger is used.
func WithLogger(l *slog.Logger) Option {
	return &funcOption{
		dial: func(o *dialOptions) { o.logger = l },
		open: func(o *openOptions) { o.logger = l },
	}
}

// WithRuntimeDir sets the base runtime directory for Open.
// If not specified, the configured server.runtime_dir is used.
// This option has no effect on Dial.
func WithRuntimeDir(path string) Option {
	return &funcOption{
		open: func(o *openOptions) { o.path = path },
	}
}

// WithProgram sets the P4Info file Open loads, overriding
// device.program. This option has no effect on Dial.
func WithProgram(path string) Option {
	return &funcOption{
		open: func(o *openOptions) { o.program = path },
	}
}

// WithConfig sets the configuration for Open.
// If not specified, the built-in defaults are used.
// This option has no effect on Dial.
func WithConfig(cfg config.Config) Option {
	return &funcOption{
		open: func(o *openOptions) { o.config = cfg },
	}
}

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Dial connects to a bfrt daemon at the specified address.
// The address can be:
//   - "host:port" for TCP connections
//   - "unix:///path/to/socket" for Unix socket connections
//   - "/path/to/socket" for Unix socket connections (shorthand)
//
// The returned client must be closed when no longer needed.
func Dial(address string, opts ...Option) (Client, error) {
	o := &dialOptions{
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt.applyDial(o)
	}
	c, err := newRemote(address, o.logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Open creates a client that runs the table runtime in-process. It
// takes the writer lock of the runtime directory for as long as the
// client is open, so it fails while a daemon owns the device.
//
// Example:
//
//	// Use defaults with an explicit program
//	c, err := client.Open(client.WithProgram("switch.p4info.txt"))
//
//	// Use custom runtime directory
//	c, err := client.Open(client.WithRuntimeDir("/tmp/mybfrt"), client.WithProgram("switch.p4info.txt"))
//
// The returned client must be closed when no longer needed.
func Open(opts ...Option) (Client, error) {
	o := &openOptions{
		logger: discardLogger(),
		config: config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt.applyOpen(o)
	}
	if o.program != "" {
		o.config.Device.Program = o.program
	}

	base := o.path
	if base == "" {
		base = o.config.Server.RuntimeDir
	}
	dirs, err := config.NewRuntimeDirs(base)
	if err != nil {
		return nil, err
	}
	return newEphemeral(dirs, o.config, o.logger)
}
