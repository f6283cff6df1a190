// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Bind registers one flag per exported field of the config struct on
// the command. Field names become lowercased flag names; nested
// structs contribute dot-separated prefixes. Supported tags:
//
//	default - the flag default value
//	help    - the flag usage string
//	hidden  - "true" hides the flag from help output
func Bind(cmd *cobra.Command, config interface{}) {
	BindPrefix(cmd, "", config)
}

// BindPrefix is Bind with all flag names placed under prefix.
func BindPrefix(cmd *cobra.Command, prefix string, config interface{}) {
	bindFlags(cmd.Flags(), prefix, config)
}

// BindPersistent is BindPrefix on the command's persistent flag set,
// so subcommands inherit the flags.
func BindPersistent(cmd *cobra.Command, prefix string, config interface{}) {
	bindFlags(cmd.PersistentFlags(), prefix, config)
}

func bindFlags(flags *pflag.FlagSet, prefix string, config interface{}) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("process: Bind expects a pointer to a struct, got %T", config))
	}
	bindStruct(flags, prefix, ptr.Elem())
}

func bindStruct(flags *pflag.FlagSet, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}

		name := strings.ToLower(field.Name)
		if prefix != "" {
			name = prefix + "." + name
		}
		def := field.Tag.Get("default")
		help := field.Tag.Get("help")

		switch addr := val.Field(i).Addr().Interface().(type) {
		case *string:
			flags.StringVar(addr, name, def, help)
		case *bool:
			flags.BoolVar(addr, name, defaultBool(name, def), help)
		case *int:
			flags.IntVar(addr, name, int(defaultInt(name, def)), help)
		case *int64:
			flags.Int64Var(addr, name, defaultInt(name, def), help)
		case *float64:
			flags.Float64Var(addr, name, defaultFloat(name, def), help)
		case *time.Duration:
			flags.DurationVar(addr, name, defaultDuration(name, def), help)
		default:
			if val.Field(i).Kind() == reflect.Struct {
				bindStruct(flags, name, val.Field(i))
				continue
			}
			panic(fmt.Sprintf("process: unsupported config field type %s for %s", field.Type, name))
		}

		if field.Tag.Get("hidden") == "true" {
			_ = flags.MarkHidden(name)
		}
	}
}

func defaultBool(name, def string) bool {
	if def == "" {
		return false
	}
	v, err := strconv.ParseBool(def)
	if err != nil {
		panic(fmt.Sprintf("process: invalid bool default for %s: %q", name, def))
	}
	return v
}

func defaultInt(name, def string) int64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseInt(def, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("process: invalid int default for %s: %q", name, def))
	}
	return v
}

func defaultFloat(name, def string) float64 {
	if def == "" {
		return 0
	}
	v, err := strconv.ParseFloat(def, 64)
	if err != nil {
		panic(fmt.Sprintf("process: invalid float default for %s: %q", name, def))
	}
	return v
}

func defaultDuration(name, def string) time.Duration {
	if def == "" {
		return 0
	}
	v, err := time.ParseDuration(def)
	if err != nil {
		panic(fmt.Sprintf("process: invalid duration default for %s: %q", name, def))
	}
	return v
}
