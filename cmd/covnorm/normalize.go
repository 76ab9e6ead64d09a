// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/covtools/covnorm/covnorm"
	"github.com/covtools/covnorm/lib/logger"
)

// NormalizeCommand rewrites coverage ranges in a report directory so their
// offsets align with original-source boundaries.
type NormalizeCommand struct {
	scanBudget int
}

func (*NormalizeCommand) Name() string {
	return "normalize"
}

func (*NormalizeCommand) Usage() string {
	return "normalize [flags] <coverage-dir>\n"
}

func (*NormalizeCommand) Synopsis() string {
	return "realigns coverage ranges to original source positions via source maps"
}

func (cmd *NormalizeCommand) SetFlags(f *flag.FlagSet) {
	f.IntVar(&cmd.scanBudget, "scan-budget", covnorm.ScanBudgetFromEnv(),
		fmt.Sprintf("max offsets probed per range boundary when no direct mapping exists (env %s)", covnorm.ScanBudgetEnv))
}

func (cmd *NormalizeCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := cmd.execute(ctx, f.Args()); err != nil {
		logger.Errorf(ctx, "%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *NormalizeCommand) execute(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one coverage directory, got %d arguments", len(args))
	}
	stats, err := covnorm.NormalizeDir(ctx, args[0], covnorm.Options{ScanBudget: cmd.scanBudget})
	if err != nil {
		return err
	}
	logger.Infof(ctx, "rewrote %d of %d coverage files (%d of %d ranges moved, %d scripts without maps)",
		stats.FilesChanged, stats.Files, stats.RangesChanged, stats.Ranges, stats.ScriptsNoMap)
	return nil
}
