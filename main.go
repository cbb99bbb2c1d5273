// modelgate - a multimodal chat gateway routing turns to capable models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/modelgate/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cmd, args := cli.Parse(argv)
	cli.SetupColor(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case cli.CmdServe:
		err = cli.HandleServe(ctx, args)
	case cli.CmdModels:
		err = cli.HandleModels(ctx, args, os.Stdout)
	case cli.CmdConfig:
		err = cli.HandleConfig(args, os.Stdout)
	case cli.CmdDoctor:
		err = cli.HandleDoctor(ctx, args, os.Stdout)
	case cli.CmdVersion:
		err = cli.HandleVersion(args, os.Stdout)
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
	default:
		err = &cli.UsageError{Message: "unknown command " + args.Name}
	}

	if err != nil {
		// doctor already printed its report
		if !(cmd == cli.CmdDoctor && errors.Is(err, cli.ErrChecksFailed)) {
			cli.DisplayError(os.Stderr, cmd, err, args.JSON)
		}
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
