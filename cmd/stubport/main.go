package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sophialabs/stubport/internal/app"
)

func main() {
	defaults := app.DefaultConfig()

	configPath := flag.String("config", "", "path to a YAML config file")
	flag.String("root-dir", defaults.RootDir, "root directory for stub files")
	flag.Int("port", defaults.Port, "HTTP server port")
	flag.Bool("admin", defaults.Admin, "expose the admin API under /__admin")
	flag.Bool("watch", defaults.Watch, "reload stubs when files under the root change")
	flag.Int("trace-size", defaults.TraceSize, "number of trace entries to keep")
	flag.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	flag.String("log-format", defaults.LogFormat, "log format (text, json)")
	flag.String("log-backend", defaults.LogBackend, "logging backend (slog, zap)")
	flag.String("log-file", defaults.LogFile, "write logs to this file with rotation instead of stdout")
	flag.Int64("max-body-bytes", defaults.MaxBodyBytes, "largest request body accepted")
	flag.Parse()

	// Only flags given on the command line override the file and environment.
	overrides := make(map[string]any)
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			return
		}
		overrides[strings.ReplaceAll(f.Name, "-", "_")] = f.Value.String()
	})

	cfg, err := app.LoadConfig(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
