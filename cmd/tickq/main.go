package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tickq/internal/app"
	"tickq/internal/task/trigger"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./tickq.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// Built-in commands usable from trigger configs.
	if err := registerCommands(a); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}

func registerCommands(a *app.App) error {
	trig := a.Triggers()

	if err := trig.Register("noop", func() error { return nil }); err != nil {
		return err
	}

	// shell:<command> runs the rest of the name through the shell, e.g. a
	// trigger command "shell: systemctl restart foo".
	return trig.RegisterResolver(func(name string) (trigger.Command, bool) {
		cmdline, ok := strings.CutPrefix(name, "shell:")
		if !ok {
			return nil, false
		}
		cmdline = strings.TrimSpace(cmdline)
		if cmdline == "" {
			return nil, false
		}
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			out, err := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
			}
			return nil
		}, true
	})
}
