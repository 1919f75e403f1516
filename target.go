package bfrt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AllPipes addresses every pipe of a device.
const AllPipes uint16 = 0xffff

// Target addresses a device and a pipe partition within it.
type Target struct {
	Device uint32
	Pipe   uint16
}

// DeviceTarget returns the all-pipes target of a device.
func DeviceTarget(device uint32) Target {
	return Target{Device: device, Pipe: AllPipes}
}

func (t Target) String() string {
	if t.Pipe == AllPipes {
		return fmt.Sprintf("dev%d/all", t.Device)
	}
	return fmt.Sprintf("dev%d/pipe%d", t.Device, t.Pipe)
}

// Flags modify the behaviour of a single table operation.
type Flags uint32

const (
	// FlagFromHW reads state from the device instead of the software
	// shadow.
	FlagFromHW Flags = 1 << iota
	// FlagIgnoreNotFound makes delete of an absent entry succeed.
	FlagIgnoreNotFound
	// FlagSkipCounterReset keeps the direct counter value when a modify
	// replaces the action.
	FlagSkipCounterReset
	// FlagSkipTTLReset keeps the running idle timer when a modify sets
	// the TTL.
	FlagSkipTTLReset
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagFromHW) {
		parts = append(parts, "from-hw")
	}
	if f.Has(FlagIgnoreNotFound) {
		parts = append(parts, "ignore-not-found")
	}
	if f.Has(FlagSkipCounterReset) {
		parts = append(parts, "skip-counter-reset")
	}
	if f.Has(FlagSkipTTLReset) {
		parts = append(parts, "skip-ttl-reset")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseFlag parses a single flag name as printed by Flags.String.
func ParseFlag(s string) (Flags, bool) {
	switch s {
	case "from-hw":
		return FlagFromHW, true
	case "ignore-not-found":
		return FlagIgnoreNotFound, true
	case "skip-counter-reset":
		return FlagSkipCounterReset, true
	case "skip-ttl-reset":
		return FlagSkipTTLReset, true
	default:
		return 0, false
	}
}

// Session identifies a client of the table runtime. Pagination cursors
// are kept per session.
type Session struct {
	ID uuid.UUID
}

// NewSession returns a session with a fresh identifier.
func NewSession() Session {
	return Session{ID: uuid.New()}
}

// ParseSession parses a session identifier.
func ParseSession(s string) (Session, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Session{}, invalidf("session %q: %v", s, err)
	}
	return Session{ID: id}, nil
}

func (s Session) String() string { return s.ID.String() }
