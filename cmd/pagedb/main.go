// Package main implements the CLI interface for pagedb.
//
// EDUCATIONAL NOTES:
// ------------------
// This is the entry point for the database. It runs in one of two modes:
// 1. A REPL (Read-Eval-Print Loop) reading statements from stdin
// 2. An HTTP server exposing the same table as a JSON API (-http)
//
// Either way the table is opened once at startup and closed on the way
// out, which is the only point where cached pages reach the disk.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cabewaldrop/pagedb/internal/logging"
	"github.com/cabewaldrop/pagedb/internal/table"
	"github.com/cabewaldrop/pagedb/internal/web"
)

const (
	version = "0.1.0"
	banner  = `pagedb version %s
Type '.help' for usage hints or '.exit' to quit.
`
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := flag.String("db", "pagedb.db", "Path to database file (a positional argument overrides it)")
	httpAddr := flag.String("http", "", "Serve the HTTP API on this address instead of starting the REPL")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn or error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pagedb version %s\n", version)
		return nil
	}

	if flag.NArg() > 0 {
		*dbPath = flag.Arg(0)
	}

	if err := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat, Output: os.Stderr}); err != nil {
		return err
	}

	tbl, err := table.Open(*dbPath, table.Options{})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	var runErr error
	if *httpAddr != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		runErr = web.NewServer(*httpAddr, tbl).Run(ctx)
		stop()
	} else {
		fmt.Printf(banner, version)
		runErr = newREPL(tbl, os.Stdin, os.Stdout).run()
	}

	return errors.Join(runErr, tbl.Close())
}
