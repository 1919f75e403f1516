package entryfmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frobware/go-bfrt"
)

// ActionItem names the action of a data record.
const ActionItem = "action"

// NewData builds an all-fields record from items. The action item
// selects the action; without one the record addresses the common
// fields only, which is how entries of indirect tables are written.
func NewData(ts *bfrt.TableSchema, items []Item) (*bfrt.Data, error) {
	action, rest, err := splitAction(ts, items)
	if err != nil {
		return nil, err
	}
	d, err := bfrt.NewData(ts, action)
	if err != nil {
		return nil, err
	}
	if err := setFields(d, rest); err != nil {
		return nil, err
	}
	return d, nil
}

// NewSelectedData builds a selected-fields record. Each item either
// names a field to read or assigns the value to write.
func NewSelectedData(ts *bfrt.TableSchema, items []Item) (*bfrt.Data, error) {
	action, rest, err := splitAction(ts, items)
	if err != nil {
		return nil, err
	}
	ids := make([]bfrt.FieldID, 0, len(rest))
	var values []Item
	for _, it := range rest {
		f, ok := ts.DataFieldByName(action, it.Name)
		if !ok {
			return nil, unknownField(ts, action, it.Name)
		}
		ids = append(ids, f.ID)
		if it.Value != "" {
			values = append(values, it)
		}
	}
	d, err := bfrt.NewDataWithFields(ts, action, ids...)
	if err != nil {
		return nil, err
	}
	if err := setFields(d, values); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseData builds an all-fields record from name=value arguments.
func ParseData(ts *bfrt.TableSchema, args ...string) (*bfrt.Data, error) {
	items, err := ParseItems(args...)
	if err != nil {
		return nil, err
	}
	return NewData(ts, items)
}

func splitAction(ts *bfrt.TableSchema, items []Item) (bfrt.ActionID, []Item, error) {
	var action bfrt.ActionID
	rest := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Name != ActionItem {
			rest = append(rest, it)
			continue
		}
		a, ok := ts.ActionByName(it.Value)
		if !ok {
			return 0, nil, fmt.Errorf("%w: table %s has no action %q", bfrt.ErrInvalidArgument, ts.Name, it.Value)
		}
		action = a.ID
	}
	return action, rest, nil
}

func setFields(d *bfrt.Data, items []Item) error {
	ts := d.Table()
	for _, it := range items {
		f, ok := ts.DataFieldByName(d.ActionID(), it.Name)
		if !ok {
			return unknownField(ts, d.ActionID(), it.Name)
		}
		if f.Dest == bfrt.DestRegister && strings.Contains(it.Value, ",") {
			vs, err := parseUints(it.Value)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			if err := d.SetValues(f.ID, vs); err != nil {
				return err
			}
			continue
		}
		v, err := ParseValue(it.Value, f.Width)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		if err := d.SetBytes(f.ID, v); err != nil {
			return err
		}
	}
	return nil
}

func parseUints(s string) ([]uint64, error) {
	parts := strings.Split(s, ",")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bfrt.ErrInvalidArgument, err)
		}
		out[i] = v
	}
	return out, nil
}

func unknownField(ts *bfrt.TableSchema, action bfrt.ActionID, name string) error {
	if action == 0 {
		return fmt.Errorf("%w: table %s has no common field %q", bfrt.ErrInvalidArgument, ts.Name, name)
	}
	a, _ := ts.Action(action)
	return fmt.Errorf("%w: action %s of table %s has no field %q", bfrt.ErrInvalidArgument, a.Name, ts.Name, name)
}

// DataItems returns the action and every active field of d.
func DataItems(d *bfrt.Data) []Item {
	ts := d.Table()
	var items []Item
	if a, ok := ts.Action(d.ActionID()); ok {
		items = append(items, Item{Name: ActionItem, Value: a.Name})
	}
	for _, f := range d.Fields() {
		if f.Dest == bfrt.DestRegister {
			vs, err := d.Values(f.ID)
			if err != nil {
				continue
			}
			parts := make([]string, len(vs))
			for i, v := range vs {
				parts[i] = strconv.FormatUint(v, 10)
			}
			items = append(items, Item{Name: f.Name, Value: strings.Join(parts, ",")})
			continue
		}
		b, err := d.Bytes(f.ID)
		if err != nil {
			continue
		}
		items = append(items, Item{Name: f.Name, Value: FormatValue(b)})
	}
	return items
}

// FormatData renders d as space-separated items.
func FormatData(d *bfrt.Data) string {
	return Join(DataItems(d))
}
