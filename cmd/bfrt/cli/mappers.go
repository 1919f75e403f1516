package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

// valueMapper creates a Kong mapper that pops one value and parses it.
func valueMapper[T any](name string, parse func(string) (T, error)) kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto(name, &s); err != nil {
			return err
		}
		v, err := parse(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(v))
		return nil
	}
}

func targetSpecMapper() kong.MapperFunc { return valueMapper("target", ParseTargetSpec) }

func flagSetMapper() kong.MapperFunc { return valueMapper("flags", ParseFlagSet) }

func idleModeMapper() kong.MapperFunc { return valueMapper("mode", ParseIdleModeArg) }

func scopeMapper() kong.MapperFunc { return valueMapper("scope", ParseScopeArg) }

func memberListMapper() kong.MapperFunc { return valueMapper("members", ParseMemberList) }
