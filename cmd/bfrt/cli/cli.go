package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-bfrt/client"
	"github.com/frobware/go-bfrt/config"
	"github.com/frobware/go-bfrt/logging"
)

// CLI is the root command structure for bfrt.
type CLI struct {
	Config     string     `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log        string     `name:"log" help:"Log spec (e.g., 'info,manager=debug')." env:"BFRT_LOG"`
	Remote     string     `name:"remote" short:"r" help:"Remote endpoint (unix:///path or host:port). Connects via gRPC instead of running the tables in-process."`
	RuntimeDir string     `name:"runtime-dir" help:"Runtime directory, overriding server.runtime_dir."`
	Program    string     `name:"program" short:"p" help:"P4Info file, overriding device.program."`
	Target     TargetSpec `name:"target" short:"t" help:"Device target: dev0, dev0/all or dev0/pipe1. Defaults to every pipe of the device."`
	Flags      FlagSet    `name:"flags" help:"Operation flags: from-hw, ignore-not-found (comma separated)."`

	Serve    ServeCmd    `cmd:"" help:"Start the gRPC daemon."`
	Describe DescribeCmd `cmd:"" help:"Describe the program's tables and action profiles."`
	Entry    EntryCmd    `cmd:"" help:"Table entry operations."`
	Default  DefaultCmd  `cmd:"" help:"Default entry operations."`
	Idle     IdleCmd     `cmd:"" help:"Table aging operations."`
	Scope    ScopeCmd    `cmd:"" help:"Pipe scope operations."`
	Member   MemberCmd   `cmd:"" help:"Action profile member operations."`
	Group    GroupCmd    `cmd:"" help:"Selector group operations."`
	Usage    UsageCmd    `cmd:"" help:"Show table entry counts."`

	// Out receives command output. Nil means os.Stdout.
	Out io.Writer `kong:"-"`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("bfrt"),
		kong.Description("Match-action table runtime for a P4 device model."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(TargetSpec{}), targetSpecMapper()),
		kong.TypeMapper(reflect.TypeOf(FlagSet{}), flagSetMapper()),
		kong.TypeMapper(reflect.TypeOf(IdleModeArg{}), idleModeMapper()),
		kong.TypeMapper(reflect.TypeOf(ScopeArg{}), scopeMapper()),
		kong.TypeMapper(reflect.TypeOf(MemberList{}), memberListMapper()),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
		},
	}
}

// LoadConfig loads the configuration from the config file path and
// applies the command-line overrides.
func (c *CLI) LoadConfig() (config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return cfg, err
	}
	if c.RuntimeDir != "" {
		cfg.Server.RuntimeDir = c.RuntimeDir
	}
	if c.Program != "" {
		cfg.Device.Program = c.Program
	}
	return cfg, nil
}

// RuntimeDirs returns the runtime directory layout in use.
func (c *CLI) RuntimeDirs(cfg config.Config) (config.RuntimeDirs, error) {
	return config.NewRuntimeDirs(cfg.Server.RuntimeDir)
}

// Logger creates a logger for CLI commands.
// CLI commands default to WARN level for quieter output.
// Use LoggerFromConfig for long-running services like serve.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	// CLI commands default to warn unless --log is specified
	spec := c.Log
	if spec == "" {
		spec = "warn"
	}

	return logging.New(logging.Options{
		CLISpec:    spec,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

// LoggerFromConfig creates a logger using config file settings.
// Output goes to stdout for daemon log collection.
func (c *CLI) LoggerFromConfig(cfg config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stdout,
	})
}

// Client returns a client appropriate for the configured transport.
// If --remote is set, it dials the daemon. Otherwise the tables run
// in-process on the runtime directory, which fails while a daemon
// holds it. The returned client must be closed when no longer needed.
func (c *CLI) Client() (client.Client, error) {
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}

	if c.Remote != "" {
		return client.Dial(c.Remote, client.WithLogger(logger))
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}
	return client.Open(
		client.WithLogger(logger),
		client.WithConfig(cfg),
		client.WithRuntimeDir(cfg.Server.RuntimeDir),
	)
}

// Ref names a table or profile on the global target with the global
// flags.
func (c *CLI) Ref(name string) client.Ref {
	ref := client.Table(name).With(c.Flags.Value)
	if c.Target.Set {
		ref = ref.On(c.Target.Value)
	}
	return ref
}

func (c *CLI) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// WriteOut writes b in full. A short write without an error is
// reported as io.ErrShortWrite.
func (c *CLI) WriteOut(b []byte) error {
	n, err := c.out().Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// PrintOut writes s to the command output.
func (c *CLI) PrintOut(s string) error {
	return c.WriteOut([]byte(s))
}

// PrintOutf formats and writes to the command output.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.WriteOut(fmt.Appendf(nil, format, args...))
}
