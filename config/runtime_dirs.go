package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// RuntimeDirs holds the runtime paths of the daemon:
//
//	{base}/           - runtime root
//	{base}/db/        - device model databases
//	{base}/.lock      - writer lock shared by the daemon and the CLI
//	{base}-sock/      - gRPC socket directory
//
// RuntimeDirs is immutable; use NewRuntimeDirs to create one.
type RuntimeDirs struct {
	base string
	db   string
	sock string
	lock string
}

// NewRuntimeDirs derives every runtime path from base, which must be
// absolute.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	if base == "" {
		return RuntimeDirs{}, fmt.Errorf("base path cannot be empty")
	}
	if !filepath.IsAbs(base) {
		return RuntimeDirs{}, fmt.Errorf("base path must be absolute, got %q", base)
	}
	base = filepath.Clean(base)
	return RuntimeDirs{
		base: base,
		db:   filepath.Join(base, "db"),
		sock: base + "-sock",
		lock: filepath.Join(base, ".lock"),
	}, nil
}

// Base returns the runtime root.
func (d RuntimeDirs) Base() string { return d.base }

// DB returns the database directory.
func (d RuntimeDirs) DB() string { return d.db }

// Sock returns the socket directory.
func (d RuntimeDirs) Sock() string { return d.sock }

// Lock returns the writer lock file.
func (d RuntimeDirs) Lock() string { return d.lock }

// SocketPath returns the gRPC socket of the daemon.
func (d RuntimeDirs) SocketPath() string {
	return filepath.Join(d.sock, "bfrt.sock")
}

// DBPath returns the database of a device.
func (d RuntimeDirs) DBPath(device uint32) string {
	return filepath.Join(d.db, "device-"+strconv.FormatUint(uint64(device), 10)+".db")
}

// EnsureDirectories creates the runtime directories. It is idempotent.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.db, d.sock} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
