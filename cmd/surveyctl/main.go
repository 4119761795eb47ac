// Command surveyctl drives the survey service from a terminal: it lists, uploads, triggers
// and watches surveys through one orchestrator session and exports completed results.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, newSession)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, open func(io.Writer) (*session, error)) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	session, err := open(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "surveyctl: %v\n", err)
		return 1
	}
	defer session.Close()

	if err := cmd.run(ctx, session, args[1:], stdout); err != nil {
		fmt.Fprintf(stderr, "surveyctl %s: %v\n", args[0], err)
		return exitCode(err)
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: surveyctl <command> [flags]")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
}
