// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jllopis/agora/internal/app"
	"github.com/jllopis/agora/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultTimeout = 120 * time.Second

type globalFlags struct {
	ConfigArgs []string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("flags", err.Error()), false)
	}
	if global.Help {
		printUsage(os.Stdout)
		return
	}

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = runServe(ctx, global, args)
	case "discover":
		err = runDiscover(ctx, global, args, os.Stdout)
	case "send":
		err = runSend(ctx, global, args, os.Stdout)
	case "adapters":
		err = runAdapters(global, args, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help":
		printUsage(os.Stdout)
	default:
		err = NewInvalidArgumentError(cmd, fmt.Sprintf("unknown command %q", cmd))
	}
	if err != nil {
		fatal(err, global.JSON)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: defaultTimeout}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "-c" || arg == "--set" || arg == "--profile" || arg == "--env":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--set="),
			strings.HasPrefix(arg, "--profile="), strings.HasPrefix(arg, "--env="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func runServe(ctx context.Context, flags globalFlags, args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError(args[0], "serve takes no arguments")
	}
	cfg, err := config.LoadWithCLI(flags.ConfigArgs)
	if err != nil {
		return NewConfigError(err, configPath(flags.ConfigArgs))
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func configPath(args []string) string {
	for i, arg := range args {
		switch {
		case (arg == "--config" || arg == "-c") && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `agora - A2A agent orchestrator

Usage:
  agora [global flags] [command] [args]

Global flags:
  --config, -c <path>  Path to config.yaml
  --profile <name>     Merge config.<name>.yaml over the base file (alias --env)
  --set key=value      Override config (repeatable)
  --timeout <dur>      Client request timeout (default 120s)
  --json               JSON output

Commands:
  serve                          Run the orchestrator (default)
  discover <url>                 Show the agent card published at url
  send <url> <message> [flags]   Send a message over JSON-RPC
      --stream, -s               Stream the response over SSE
      --task <id>                Continue a task waiting for input
      --context <id>             Reuse a conversation context
      --skill <id>               Routing hint (repeatable)
  adapters                       List provider types and aliases
  version
`)
}
