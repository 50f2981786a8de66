package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/engine"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/monitor"
)

var (
	configPath  = pflag.StringP("config", "c", "config.ini", "Configuration file path")
	logLevel    = pflag.String("log-level", "", "Override configured log level (debug, info, warn, error)")
	dryRun      = pflag.Bool("dry-run", false, "Validate configuration and exit")
	showVersion = pflag.Bool("version", false, "Show version information")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

func main() {
	pflag.Parse()

	if *showVersion {
		fmt.Printf("js8emu version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	// Load configuration; startup failures are one line on stderr and a
	// non-zero exit.
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "js8emu: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "js8emu: %v\n", err)
		os.Exit(1)
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "js8emu: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.CloseGlobalLogger()

	if *dryRun {
		logging.Info("main", "Config OK. Dry-run complete.")
		return
	}

	logging.Infof("main", "js8emu version %s starting...", Version)
	logging.Infof("main", "%d interface(s), fragment_size=%d frame_time=%.3fs",
		len(cfg.Interfaces), cfg.General.FragmentSize, cfg.General.FrameTime)

	eng := engine.NewEngine(cfg)

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon = monitor.New(cfg, eng, Version)
		eng.SetEventSink(mon)
	}

	if err := eng.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "js8emu: %v\n", err)
		os.Exit(1)
	}
	if mon != nil {
		mon.Start()
	}

	logging.Info("main", "js8emu started successfully")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logging.Info("main", "Shutting down...")

	if mon != nil {
		mon.Stop()
	}
	if err := eng.Stop(); err != nil {
		logging.Errorf("main", "Error during shutdown: %v", err)
	}

	logging.Info("main", "js8emu stopped")
}
