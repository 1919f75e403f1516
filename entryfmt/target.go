package entryfmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frobware/go-bfrt"
)

// ParseTarget parses the form printed by bfrt.Target.String:
// "dev0/all" or "dev0/pipe1". A bare "dev0" addresses every pipe.
func ParseTarget(s string) (bfrt.Target, error) {
	devText, pipeText, hasPipe := strings.Cut(s, "/")
	dev, err := strconv.ParseUint(strings.TrimPrefix(devText, "dev"), 10, 32)
	if err != nil || !strings.HasPrefix(devText, "dev") {
		return bfrt.Target{}, fmt.Errorf("%w: bad target %q", bfrt.ErrInvalidArgument, s)
	}
	tgt := bfrt.DeviceTarget(uint32(dev))
	if !hasPipe || pipeText == "all" {
		return tgt, nil
	}
	pipe, err := strconv.ParseUint(strings.TrimPrefix(pipeText, "pipe"), 10, 16)
	if err != nil || !strings.HasPrefix(pipeText, "pipe") || pipe == uint64(bfrt.AllPipes) {
		return bfrt.Target{}, fmt.Errorf("%w: bad target %q", bfrt.ErrInvalidArgument, s)
	}
	tgt.Pipe = uint16(pipe)
	return tgt, nil
}

// ParseFlags parses a flag list separated by commas or by the "|"
// printed by bfrt.Flags.String.
func ParseFlags(s string) (bfrt.Flags, error) {
	var flags bfrt.Flags
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		name = strings.TrimSpace(name)
		if name == "" || name == "none" {
			continue
		}
		f, ok := bfrt.ParseFlag(name)
		if !ok {
			return 0, fmt.Errorf("%w: unknown flag %q", bfrt.ErrInvalidArgument, name)
		}
		flags |= f
	}
	return flags, nil
}
