package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"demoplay/internal/app"
	"demoplay/internal/builtin"
)

var version = "dev"

// The render loop, warm-up and every GPU call stay on the main thread.
func init() { runtime.LockOSThread() }

func main() {
	var (
		cfgPath  string
		script   string
		seek     string
		threads  int
		tool     bool
		verbose  bool
		mute     bool
		showVers bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to engine config (yaml or json)")
	flag.StringVar(&script, "script", "", "demo script; overrides player.script")
	flag.StringVar(&seek, "seek", "", "start position, M:SS[.mmm]")
	flag.IntVar(&threads, "threads", -1, "worker threads for loading; -1 keeps the configured value")
	flag.BoolVar(&tool, "tool", false, "editor mode: hot reload, sync polling, on-screen log")
	flag.BoolVar(&verbose, "verbose", false, "debug logging")
	flag.BoolVar(&mute, "mute", false, "disable audio")
	flag.BoolVar(&showVers, "version", false, "print version and exit")
	flag.Parse()

	if showVers {
		fmt.Println("demoplay", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var signalled atomic.Value // app.StopReason
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		if sig == syscall.SIGTERM {
			signalled.Store(app.StopSIGTERM)
		} else {
			signalled.Store(app.StopSIGINT)
		}
		cancel()
	}()
	defer signal.Stop(sigCh)

	a, err := app.New(app.Options{
		ConfigPath: cfgPath,
		Script:     script,
		Seek:       seek,
		Threads:    threads,
		Editor:     tool,
		Verbose:    verbose,
		Mute:       mute,
		Catalog:    builtin.Catalog(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(a, app.StopFatalError)
		os.Exit(1)
	}

	reason, err := a.Run(ctx)
	if r, ok := signalled.Load().(app.StopReason); ok {
		reason = r
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "render loop:", err)
		reason = app.StopFatalError
	}
	if err := stop(a, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
}

func stop(a *app.App, reason app.StopReason) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Stop(ctx, reason)
}
