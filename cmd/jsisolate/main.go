package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/buke/jsisolate"
	"github.com/buke/jsisolate/internal/fetch"
)

func main() {
	var (
		interactive = flag.Bool("i", false, "Start a REPL after running the scripts")
		home        = flag.String("home", defaultHome(), "Cache directory ($JSISOLATE_HOME)")
		noCache     = flag.Bool("no-cache", false, "Keep fetched scripts in memory only")
		call        = flag.String("call", "", "Global function to call after each script")
		timeout     = flag.Duration("timeout", 0, "Terminate scripts running longer than this")
		verbose     = flag.Bool("v", false, "Log lifecycle events to stderr")
	)
	flag.Parse()

	if flag.NArg() == 0 && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: jsisolate [flags] <script|url> ...")
		fmt.Fprintln(os.Stderr, "       jsisolate -i  (interactive mode)")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()
	jsisolate.SetLogger(logger)

	if err := run(logger, *home, *noCache, *call, *timeout, *interactive, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultHome() string {
	if home := os.Getenv("JSISOLATE_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".jsisolate"
	}
	return filepath.Join(dir, ".jsisolate")
}

func run(logger *zap.Logger, home string, noCache bool, call string, timeout time.Duration, interactive bool, scripts []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		f   *fetch.Fetcher
		err error
	)
	if noCache {
		f = fetch.New(nil)
	} else if f, err = fetch.Open(home); err != nil {
		return err
	}
	defer f.Close()

	out := &syncWriter{w: os.Stdout}
	if len(scripts) > 0 {
		r := &runner{fetcher: f, logger: logger, out: out, call: call, timeout: timeout}
		if err := r.runAll(ctx, scripts); err != nil {
			return err
		}
	}
	if !interactive {
		return nil
	}
	stop()
	return repl(f, logger, home, os.Stdin, out)
}
