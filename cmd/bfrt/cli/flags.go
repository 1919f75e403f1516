package cli

import (
	"time"

	"github.com/frobware/go-bfrt"
)

// OutputFormat represents the output format type.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
)

// OutputFlags provides output formatting flags.
type OutputFlags struct {
	Output string `short:"o" help:"Output format: table, json." default:"table" enum:"table,json"`
}

// Format returns the format type.
func (f *OutputFlags) Format() OutputFormat {
	if f.Output == "json" {
		return OutputFormatJSON
	}
	return OutputFormatTable
}

// KeyFlags provides the match key of an entry.
type KeyFlags struct {
	Key []string `short:"k" name:"key" sep:"none" help:"NAME=VALUE key field (can be repeated)."`
}

// TableArg names the table an entry command addresses.
type TableArg struct {
	Table string `arg:"" help:"Table name."`
}

// AgingFlags provides the aging parameters shared by idle set and
// idle watch.
type AgingFlags struct {
	Disable       bool          `name:"disable" help:"Configure the mode with aging switched off."`
	QueryInterval time.Duration `name:"query-interval" help:"Hit-state sampling interval." default:"1s"`
	MaxTTL        time.Duration `name:"max-ttl" help:"Largest entry TTL." default:"1h"`
	MinTTL        time.Duration `name:"min-ttl" help:"Smallest entry TTL." default:"1s"`
}

// Config builds an idle configuration for mode.
func (f *AgingFlags) Config(mode bfrt.IdleMode) bfrt.IdleConfig {
	return bfrt.IdleConfig{
		Mode:          mode,
		Enabled:       !f.Disable && mode != bfrt.IdleDisabled,
		QueryInterval: uint32(f.QueryInterval.Milliseconds()),
		MaxTTL:        uint32(f.MaxTTL.Milliseconds()),
		MinTTL:        uint32(f.MinTTL.Milliseconds()),
	}
}
