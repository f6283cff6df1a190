// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

// synth is the netlist optimization driver. It loads a JSON netlist,
// runs optimization passes on it and writes the result back out.
package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb"
	"github.com/loov/hrtime"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storj.io/synth/pkg/opt"
	"storj.io/synth/pkg/opt/muxtree"
	"storj.io/synth/pkg/process"
	"storj.io/synth/pkg/report"
	"storj.io/synth/pkg/rtl"
)

var (
	rootCmd = &cobra.Command{
		Use:   "synth",
		Short: "netlist optimization toolkit",
	}
	muxtreeCmd = &cobra.Command{
		Use:   "muxtree",
		Short: "eliminate dead branches in multiplexer trees",
		RunE:  cmdMuxtree,
	}
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "benchmark the muxtree pass on a netlist",
		RunE:  cmdBench,
	}

	muxtreeCfg struct {
		Input    string `default:"" help:"path of the input JSON netlist"`
		Output   string `default:"" help:"path of the output JSON netlist; empty discards the result"`
		Report   string `default:"" help:"path of a bolt report database; empty disables reporting"`
		Progress bool   `default:"false" help:"render a per-module progress bar"`
	}
	benchCfg struct {
		Input  string `default:"" help:"path of the input JSON netlist"`
		Rounds int    `default:"16" help:"number of benchmark rounds"`
	}
)

func init() {
	rootCmd.AddCommand(muxtreeCmd, benchCmd)
	process.Bind(muxtreeCmd, &muxtreeCfg)
	process.Bind(benchCmd, &benchCfg)

	if pass, err := opt.Lookup("muxtree"); err == nil {
		muxtreeCmd.Long = pass.Help()
	}
}

func cmdMuxtree(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()
	log := process.Logger()

	design, err := loadDesign(muxtreeCfg.Input)
	if err != nil {
		return err
	}

	var stats []muxtree.Stats
	if muxtreeCfg.Progress {
		stats, err = runWithProgress(ctx, log, design)
	} else {
		_, stats, err = muxtree.Run(ctx, log, design)
	}
	if err != nil {
		return err
	}

	if muxtreeCfg.Report != "" {
		if err := writeReports(ctx, muxtreeCfg.Input, stats); err != nil {
			return err
		}
	}

	if muxtreeCfg.Output != "" {
		data, err := rtl.EncodeDesign(design)
		if err != nil {
			return err
		}
		if err := ioutil.WriteFile(muxtreeCfg.Output, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

// runWithProgress drives the pass one module at a time so the bar can
// tick between modules.
func runWithProgress(ctx context.Context, log *zap.Logger, design *rtl.Design) ([]muxtree.Stats, error) {
	modules := design.Modules()
	bar := pb.New(len(modules)).Start()
	defer bar.Finish()

	outer := design.Selection
	defer func() { design.Selection = outer }()

	var all []muxtree.Stats
	for _, module := range modules {
		selection := rtl.NewSelection()
		if outer.SelectedWholeModule(module.Name) {
			selection.Set(module.Name, rtl.SelectWhole)
		} else if outer.Selected(module.Name) {
			selection.Set(module.Name, rtl.SelectPartial)
		}
		design.Selection = selection

		_, stats, err := muxtree.Run(ctx, log, design)
		if err != nil {
			return nil, err
		}
		all = append(all, stats...)
		bar.Increment()
	}
	return all, nil
}

func writeReports(ctx context.Context, input string, stats []muxtree.Stats) error {
	store, err := report.Open(muxtreeCfg.Report)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	designName := filepath.Base(input)
	for _, s := range stats {
		err := store.Put(ctx, report.Report{
			Design:       designName,
			Module:       s.Module,
			Pass:         "muxtree",
			Muxes:        s.Muxes,
			Roots:        s.Roots,
			RemovedPorts: s.RemovedPorts,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func cmdBench(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()

	data, err := ioutil.ReadFile(benchCfg.Input)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	bench := hrtime.NewBenchmark(benchCfg.Rounds)
	for bench.Next() {
		design, err := rtl.ParseDesign(data)
		if err != nil {
			return err
		}
		if _, _, err := muxtree.Run(ctx, log, design); err != nil {
			return err
		}
	}
	fmt.Println(bench.Histogram(10))
	return nil
}

func loadDesign(path string) (*rtl.Design, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return rtl.ParseDesign(data)
}

func main() {
	if err := process.Exec(rootCmd); err != nil {
		os.Exit(1)
	}
}
