package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/buke/jsisolate"
	"github.com/buke/jsisolate/internal/fetch"
)

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// repl evaluates input on one shared Isolate. Interrupting a running
// evaluation terminates it and keeps the session.
func repl(f *fetch.Fetcher, logger *zap.Logger, home string, in *os.File, out io.Writer) error {
	ci, err := jsisolate.NewConcurrentIsolate(jsisolate.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := ci.Close(); err != nil {
			logger.Warn("isolate closed with errors", zap.Error(err))
		}
	}()

	base, err := fetch.Resolve(nil, "repl.js")
	if err != nil {
		return err
	}
	if err := ci.Run(func(c *jsisolate.Context) error {
		return installHost(c, f, base, out)
	}); err != nil {
		return err
	}

	if !term.IsTerminal(int(in.Fd())) {
		src, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		return evaluate(ci, string(src), out)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptStyle.Render("js> "),
		HistoryFile:     filepath.Join(home, "history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           in,
		Stdout:          out,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			ci.TerminateExecution()
		}
	}()

	fmt.Fprintln(out, helpStyle.Render("Ctrl-C stops a running script, Ctrl-D exits."))
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if err := evaluate(ci, line, out); err != nil {
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
		}
	}
}

func evaluate(ci *jsisolate.ConcurrentIsolate, src string, out io.Writer) error {
	return ci.Run(func(c *jsisolate.Context) error {
		r, err := c.ExecuteScript(src, jsisolate.ScriptName("<repl>"))
		if err != nil {
			return err
		}
		if v, ok := r.(jsisolate.Value); ok {
			defer v.Close()
		}
		s, err := format(c, r)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resultStyle.Render(s))
		return drain(c)
	})
}
