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

// MergeCommand combines per-process coverage reports into a single one.
type MergeCommand struct{}

func (*MergeCommand) Name() string {
	return "merge"
}

func (*MergeCommand) Usage() string {
	return "merge <coverage-dir>\n"
}

func (*MergeCommand) Synopsis() string {
	return "merges every coverage report in a directory into merged/coverage.json"
}

func (*MergeCommand) SetFlags(f *flag.FlagSet) {}

func (cmd *MergeCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := cmd.execute(ctx, f.Args()); err != nil {
		logger.Errorf(ctx, "%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (cmd *MergeCommand) execute(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one coverage directory, got %d arguments", len(args))
	}
	out, err := covnorm.MergeDir(ctx, args[0])
	if err != nil {
		return err
	}
	logger.Infof(ctx, "wrote %s", out)
	return nil
}
