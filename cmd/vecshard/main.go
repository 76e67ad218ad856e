// Command vecshard builds sharded index roots and serves synthetic query
// batches against them.
//
// Usage:
//
//	vecshard build  [flags]   partition generated vectors into shards
//	vecshard search [flags]   run query batches and report throughput
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		usage(stderr)
		return flag.ErrHelp
	}

	switch args[0] {
	case "build":
		return runBuild(ctx, args[1:], stdout, stderr)
	case "search":
		return runSearch(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: vecshard <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  build   partition generated vectors into shard blobs and a centroid index")
	fmt.Fprintln(w, "  search  serve synthetic query batches against an index root")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'vecshard <command> -h' for command flags.")
}
