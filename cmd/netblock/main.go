package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "netblock"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return runWith(ctx, args, stdout, stderr, buildOptions{})
}

func runWith(ctx context.Context, args []string, stdout, stderr io.Writer, build buildOptions) int {
	c := &cli{out: stdout, errOut: stderr, build: build}
	root := newRootCmd(c)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	var re *resultError
	if err != nil && !errors.As(err, &re) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}
