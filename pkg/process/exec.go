// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

// Package process wires cobra commands to viper configuration and zap
// logging. Flags can be set on the command line, through SYNTH_*
// environment variables, or through a yaml config file, in that order
// of precedence.
package process

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the default process errs class.
var Error = errs.Class("process error")

const envPrefix = "synth"

var logger = zap.NewNop()

// Logger returns the logger configured by Exec. Before Exec runs it is
// a no-op logger.
func Logger() *zap.Logger { return logger }

// LogConfig configures the logger built by Exec.
type LogConfig struct {
	Level       string `default:"info" help:"the minimum log level: debug, info, warn, error"`
	Development bool   `default:"false" help:"use the development logger configuration"`
}

// Exec binds the process flags on every leaf command, wraps their RunE
// with configuration loading and logger setup, and executes the
// command tree.
func Exec(cmd *cobra.Command) error {
	var logConfig LogConfig

	cmd.PersistentFlags().String("config", "", "path to a yaml configuration file")
	BindPersistent(cmd, "log", &logConfig)

	wrapRun(cmd, &logConfig)
	return cmd.Execute()
}

func wrapRun(cmd *cobra.Command, logConfig *LogConfig) {
	for _, child := range cmd.Commands() {
		wrapRun(child, logConfig)
	}
	if cmd.RunE == nil {
		return
	}
	internal := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		log, err := newLogger(logConfig)
		if err != nil {
			return err
		}
		logger = log
		defer func() { _ = log.Sync() }()
		return internal(cmd, args)
	}
}

// loadConfig merges config file and environment values into all flags
// that were not set on the command line.
func loadConfig(cmd *cobra.Command) error {
	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return Error.Wrap(err)
	}
	vip.SetEnvPrefix(envPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		vip.SetConfigFile(configFile)
		if err := vip.ReadInConfig(); err != nil {
			return Error.Wrap(err)
		}
	}

	var failure error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Changed || !vip.IsSet(flag.Name) {
			return
		}
		if err := flag.Value.Set(vip.GetString(flag.Name)); err != nil {
			failure = Error.Wrap(err)
		}
	})
	return failure
}

func newLogger(config *LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		return nil, Error.Wrap(err)
	}
	var zapConfig zap.Config
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = level
	log, err := zapConfig.Build()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return log, nil
}

// Ctx returns a context that is cancelled when the process receives an
// interrupt or termination signal.
func Ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
