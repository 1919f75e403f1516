package compute

import (
	"fmt"

	"github.com/frobware/go-bfrt"
)

// CheckIdleField rejects a TTL or hit-state field that the idle mode
// makes meaningless: hit state only applies in poll mode and TTL only
// in notify mode. Other fields always pass.
// Pure function.
func CheckIdleField(table string, cfg bfrt.IdleConfig, f bfrt.DataField) error {
	switch f.Dest {
	case bfrt.DestTTL:
		if cfg.Mode != bfrt.IdleNotify {
			return bfrt.ErrFieldNotApplicable{Table: table, Field: f.Name, Reason: "idle mode is " + cfg.Mode.String()}
		}
	case bfrt.DestHitState:
		if cfg.Mode != bfrt.IdlePoll {
			return bfrt.ErrFieldNotApplicable{Table: table, Field: f.Name, Reason: "idle mode is " + cfg.Mode.String()}
		}
	}
	return nil
}

// IdleValue returns the idle value the touched idle fields of a record
// program: the TTL in milliseconds in notify mode, or 1 for an active
// hit state in poll mode. The bool result is false when the record
// touches no idle field.
// Pure function.
func IdleValue(cfg bfrt.IdleConfig, d *bfrt.Data, touched []bfrt.DataField) (uint32, bool, error) {
	table := d.Table().Name
	for _, f := range FilterByDest(touched, bfrt.DestTTL, bfrt.DestHitState) {
		if err := CheckIdleField(table, cfg, f); err != nil {
			return 0, false, err
		}
		v, err := d.Value(f.ID)
		if err != nil {
			return 0, false, err
		}
		if f.Dest == bfrt.DestHitState {
			if v > uint64(bfrt.HitActive) {
				return 0, false, fmt.Errorf("%w: table %s: hit state %d", bfrt.ErrInvalidArgument, table, v)
			}
			return uint32(v), true, nil
		}
		if v != 0 && cfg.MaxTTL != 0 && v > uint64(cfg.MaxTTL) {
			return 0, false, fmt.Errorf("%w: table %s: ttl %dms above maximum %dms", bfrt.ErrInvalidArgument, table, v, cfg.MaxTTL)
		}
		if v != 0 && v < uint64(cfg.MinTTL) {
			return 0, false, fmt.Errorf("%w: table %s: ttl %dms below minimum %dms", bfrt.ErrInvalidArgument, table, v, cfg.MinTTL)
		}
		return uint32(v), true, nil
	}
	return 0, false, nil
}

// InitialIdleValue returns the idle value a new entry is added with.
// Records without idle fields start at zero. In poll mode a TTL on add
// means start active when non-zero; modify and get still reject it.
// Pure function.
func InitialIdleValue(cfg bfrt.IdleConfig, d *bfrt.Data) (uint32, error) {
	touched := TouchedFields(d)
	if cfg.Mode == bfrt.IdlePoll {
		var rest []bfrt.DataField
		for _, f := range touched {
			if f.Dest != bfrt.DestTTL {
				rest = append(rest, f)
				continue
			}
			v, err := d.Value(f.ID)
			if err != nil {
				return 0, err
			}
			if v != 0 {
				return uint32(bfrt.HitActive), nil
			}
		}
		touched = rest
	}
	v, _, err := IdleValue(cfg, d, touched)
	return v, err
}
