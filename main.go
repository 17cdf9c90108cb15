// ABOUTME: Entry point for the mesh sync node daemon
// ABOUTME: Parses CLI flags, loads config and runs the node application
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/meshsync-go/internal/app"
	"github.com/Resonate-Protocol/meshsync-go/internal/config"
)

const defaultConfigPath = "meshsync.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "YAML config file")
	hubAddr    = flag.String("hub", "", "Manual hub address host:port (skip mDNS)")
	name       = flag.String("name", "", "Node friendly name (default: hostname-meshsync)")
	role       = flag.String("role", "", "Node role: authority or client")
	slots      = flag.Int("slots", 0, "Timestamped slots per burst")
	interval   = flag.String("slot-interval", "", "Delay between slots, e.g. 100ms")
	storePath  = flag.String("store", "", "Correction persistence file (bbolt)")
	csvPath    = flag.String("stats-csv", "", "Write per-round slot statistics to this CSV file")
	redisAddr  = flag.String("stats-redis", "", "Publish per-round slot statistics to this Redis server")
	autoSync   = flag.Duration("auto-sync", 0, "Authority: start a round with the host clock as epoch every period")
	logFile    = flag.String("log-file", "", "Log file path")
	debug      = flag.Bool("debug", false, "Enable per-slot logging")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs = flag.Bool("stream-logs", false, "Alias for -no-tui")
)

func main() {
	flag.Parse()

	// Determine if we should use TUI or streaming logs
	useTUI := !(*noTUI || *streamLogs)

	cfg, err := config.Load(*configPath, *configPath == defaultConfigPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set up logging
	f, err := os.OpenFile(cfg.Log.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	a, err := app.New(app.Config{
		File:     cfg,
		UseTUI:   useTUI,
		AutoSync: *autoSync,
	})
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	errs := make(chan error, 1)
	go func() { errs <- a.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Printf("Shutdown signal received")
	case <-a.Done():
	case err := <-errs:
		if err != nil {
			a.Stop()
			log.Fatalf("Node failed: %v", err)
		}
	}

	a.Stop()
	log.Printf("Node stopped")
}

// applyFlags overrides config file values with explicitly set flags
func applyFlags(cfg *config.Config) {
	if *name != "" {
		cfg.Node.Name = *name
	}
	if cfg.Node.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Node.Name = fmt.Sprintf("%s-meshsync", hostname)
	}
	if *role != "" {
		cfg.Node.Role = *role
	}
	if *hubAddr != "" {
		cfg.Radio.HubAddr = *hubAddr
	}
	if *slots != 0 {
		cfg.Sync.SlotsPerBurst = *slots
	}
	if *interval != "" {
		cfg.Sync.SlotInterval = *interval
	}
	if *storePath != "" {
		cfg.Persistence.Path = *storePath
	}
	if *csvPath != "" {
		cfg.Stats.CSVPath = *csvPath
	}
	if *redisAddr != "" {
		cfg.Stats.RedisAddr = *redisAddr
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *debug {
		cfg.Log.Debug = true
	}
}
