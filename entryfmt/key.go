package entryfmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frobware/go-bfrt"
)

// SetKey fills k from items. Fields not named keep their wildcard
// value.
func SetKey(k *bfrt.Key, items []Item) error {
	ts := k.Table()
	for _, it := range items {
		if it.Name == bfrt.FieldMatchPriority {
			p, err := strconv.ParseUint(it.Value, 0, 32)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", bfrt.ErrInvalidArgument, it.Name, err)
			}
			if err := k.SetPriority(uint32(p)); err != nil {
				return err
			}
			continue
		}
		kf, ok := ts.KeyFieldByName(it.Name)
		if !ok {
			return fmt.Errorf("%w: table %s has no key field %q", bfrt.ErrInvalidArgument, ts.Name, it.Name)
		}
		if err := setKeyField(k, kf, it.Value); err != nil {
			return fmt.Errorf("key field %s: %w", kf.Name, err)
		}
	}
	return nil
}

func setKeyField(k *bfrt.Key, kf bfrt.KeyField, text string) error {
	switch kf.Match {
	case bfrt.MatchExact:
		v, err := ParseValue(text, kf.Width)
		if err != nil {
			return err
		}
		return k.SetExact(kf.ID, v)
	case bfrt.MatchTernary:
		value, maskText, hasMask := strings.Cut(text, "/")
		v, err := ParseValue(value, kf.Width)
		if err != nil {
			return err
		}
		mask := allOnes(kf.Width)
		if hasMask {
			if mask, err = ParseValue(maskText, kf.Width); err != nil {
				return err
			}
		}
		return k.SetTernary(kf.ID, v, mask)
	case bfrt.MatchRange:
		low, high, isRange := strings.Cut(text, "..")
		lv, err := ParseValue(low, kf.Width)
		if err != nil {
			return err
		}
		hv := lv
		if isRange {
			if hv, err = ParseValue(high, kf.Width); err != nil {
				return err
			}
		}
		return k.SetRange(kf.ID, lv, hv)
	case bfrt.MatchLPM:
		value, lenText, hasLen := strings.Cut(text, "/")
		v, err := ParseValue(value, kf.Width)
		if err != nil {
			return err
		}
		prefix := uint64(kf.Width)
		if hasLen {
			if prefix, err = strconv.ParseUint(lenText, 10, 16); err != nil {
				return fmt.Errorf("%w: bad prefix length %q", bfrt.ErrInvalidArgument, lenText)
			}
		}
		return k.SetLPM(kf.ID, v, uint16(prefix))
	default:
		return fmt.Errorf("%w: match type %s", bfrt.ErrNotSupported, kf.Match)
	}
}

// ParseKey fills k from name=value arguments.
func ParseKey(k *bfrt.Key, args ...string) error {
	items, err := ParseItems(args...)
	if err != nil {
		return err
	}
	return SetKey(k, items)
}

// KeyItems returns the set fields of k in schema order, followed by the
// match priority when the table uses one.
func KeyItems(k *bfrt.Key) []Item {
	ts := k.Table()
	items := make([]Item, 0, len(ts.Key)+1)
	for _, kf := range ts.Key {
		v, ok := k.Field(kf.ID)
		if !ok {
			continue
		}
		var text string
		switch kf.Match {
		case bfrt.MatchExact:
			text = FormatValue(v.Value)
		case bfrt.MatchTernary:
			text = FormatValue(v.Value) + "/" + FormatHex(v.Mask)
		case bfrt.MatchRange:
			text = FormatValue(v.Value) + ".." + FormatValue(v.High)
		case bfrt.MatchLPM:
			text = formatAddress(v.Value, kf.Width) + "/" + strconv.Itoa(int(v.PrefixLen))
		}
		items = append(items, Item{Name: kf.Name, Value: text})
	}
	if ts.NeedsPriority() {
		items = append(items, Item{Name: bfrt.FieldMatchPriority, Value: strconv.FormatUint(uint64(k.Priority()), 10)})
	}
	return items
}

// FormatKey renders k as space-separated items.
func FormatKey(k *bfrt.Key) string {
	return Join(KeyItems(k))
}

func allOnes(width uint16) []byte {
	n := byteWidth(width)
	out := make([]byte, n)
	for i := range out {
		out[i] = 0xff
	}
	if spare := n*8 - int(width); spare > 0 {
		out[0] >>= spare
	}
	return out
}
