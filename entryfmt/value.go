// Package entryfmt converts table keys and data records to and from
// their text form.
//
// An entry is written as a list of name=value items:
//
//	dst=10.0.0.1                  exact
//	src=10.0.0.0/0xff000000       ternary value/mask
//	sport=1000..2000              range low..high
//	dst=10.1.0.0/16               lpm value/prefix
//	$MATCH_PRIORITY=10            match priority
//	action=set_port port=3        data record
//	fwd_reg.f1=1,2,3,4            per-pipe register values
//
// Values are decimal, 0x-prefixed hex, IPv4 or IPv6 addresses, or MAC
// addresses for 48-bit fields. The CLI and the RPC layer share this
// format.
package entryfmt

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strings"

	"github.com/frobware/go-bfrt"
)

func byteWidth(width uint16) int {
	return (int(width) + 7) / 8
}

// ParseValue parses one field value of width bits into its big-endian
// byte string of exactly the field's byte width.
func ParseValue(s string, width uint16) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", bfrt.ErrInvalidArgument)
	}

	var raw []byte
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		digits := s[2:]
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		b, err := hex.DecodeString(digits)
		if err != nil || len(digits) == 0 {
			return nil, fmt.Errorf("%w: bad hex value %q", bfrt.ErrInvalidArgument, s)
		}
		raw = b
	case width == 48 && strings.Count(s, ":") == 5:
		mac, err := net.ParseMAC(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bfrt.ErrInvalidArgument, err)
		}
		raw = mac
	case strings.ContainsAny(s, ".:"):
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bfrt.ErrInvalidArgument, err)
		}
		raw = addr.AsSlice()
	default:
		n, ok := new(big.Int).SetString(s, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("%w: bad value %q", bfrt.ErrInvalidArgument, s)
		}
		raw = n.Bytes()
	}

	if new(big.Int).SetBytes(raw).BitLen() > int(width) {
		return nil, fmt.Errorf("%w: value %s exceeds %d bits", bfrt.ErrInvalidArgument, s, width)
	}
	out := make([]byte, byteWidth(width))
	trimmed := raw
	for len(trimmed) > len(out) && trimmed[0] == 0 {
		trimmed = trimmed[1:]
	}
	copy(out[len(out)-len(trimmed):], trimmed)
	return out, nil
}

// FormatValue renders a value in decimal when it fits in 64 bits and in
// hex otherwise.
func FormatValue(b []byte) string {
	n := new(big.Int).SetBytes(b)
	if n.BitLen() <= 64 {
		return n.String()
	}
	return FormatHex(b)
}

// FormatHex renders a value as 0x-prefixed hex.
func FormatHex(b []byte) string {
	if len(b) == 0 {
		return "0x0"
	}
	return "0x" + hex.EncodeToString(b)
}

// formatAddress renders 32 and 128-bit values as addresses.
func formatAddress(b []byte, width uint16) string {
	if addr, ok := netip.AddrFromSlice(b); ok && (width == 32 || width == 128) {
		return addr.String()
	}
	return FormatValue(b)
}

// Item is one name=value pair.
type Item struct {
	Name  string
	Value string
}

func (i Item) String() string { return i.Name + "=" + i.Value }

// ParseItems splits name=value arguments.
func ParseItems(args ...string) ([]Item, error) {
	items := make([]Item, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: expected name=value, got %q", bfrt.ErrInvalidArgument, arg)
		}
		items = append(items, Item{Name: name, Value: strings.TrimSpace(value)})
	}
	return items, nil
}

// Join renders items separated by single spaces.
func Join(items []Item) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return strings.Join(parts, " ")
}
