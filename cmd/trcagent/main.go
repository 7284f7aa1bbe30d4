// trcagent runs a synthetic workload against a trace collector, and reports on
// the behavior of the collector and its capped store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("base")
	rootConfig.registerBaseFlags(rootFlags)

	storeFlags := ff.NewFlagSet("store").SetParent(rootFlags)
	rootConfig.registerStoreFlags(storeFlags)

	rootCommand := &ff.Command{
		Name:      "trcagent",
		ShortHelp: "exercise a trace collector backed by a capped store",
		Flags:     rootFlags,
	}

	// Config for `trcagent run`.
	runConfig := &runConfig{rootConfig: rootConfig}
	runFlags := ff.NewFlagSet("run").SetParent(storeFlags)
	runConfig.register(runFlags)
	runCommand := &ff.Command{
		Name:      "run",
		ShortHelp: "run a synthetic workload until interrupted",
		LongHelp:  "Start transactions from concurrent workers, and periodically report store and admission stats.",
		Flags:     runFlags,
		Exec:      runConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, runCommand)

	// Config for `trcagent recent`.
	recentConfig := &recentConfig{rootConfig: rootConfig}
	recentFlags := ff.NewFlagSet("recent").SetParent(storeFlags)
	recentConfig.register(recentFlags)
	recentCommand := &ff.Command{
		Name:      "recent",
		ShortHelp: "run a fixed number of transactions, and print the stored entries",
		LongHelp:  "Run transactions to completion, then read every recent transaction back from the store.",
		Flags:     recentFlags,
		Exec:      recentConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, recentCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("TRCAGENT")); err != nil {
		return err
	}

	// Validation and set-up.
	{
		var infodst, debugdst io.Writer
		switch rootConfig.LogLevel {
		case "n", "none":
			infodst, debugdst = io.Discard, io.Discard
		case "i", "info":
			infodst, debugdst = stderr, io.Discard
		case "d", "debug":
			infodst, debugdst = stderr, stderr
		default:
			return fmt.Errorf("invalid log level %q", rootConfig.LogLevel)
		}
		rootConfig.info = log.New(infodst, "", 0)
		rootConfig.debug = log.New(debugdst, "[DEBUG] ", log.Lmsgprefix)
	}

	if rootConfig.Capacity <= 0 {
		return fmt.Errorf("capacity must be greater than zero")
	}

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
