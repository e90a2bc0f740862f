package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/meszmate/inbox/internal/app"
	"github.com/meszmate/inbox/internal/config"
	"github.com/meszmate/inbox/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: XDG config dir)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("inbox", app.Version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Load()
	} else {
		var paths *config.Paths
		if paths, err = config.GetPaths(); err == nil {
			cfg, err = config.LoadFile(configPath, paths)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Account.JID == "" {
		return fmt.Errorf("account.jid is not set")
	}

	log, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Close()

	// Initialize application
	application, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("inbox %s starting for %s", app.Version, cfg.Account.JID)
	return application.Run(ctx)
}
