// ABOUTME: Entry point for the radio hub
// ABOUTME: Parses CLI flags and starts the simulated broadcast medium server
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/meshsync-go/internal/server"
	"github.com/Resonate-Protocol/meshsync-go/internal/version"
)

var (
	port     = flag.Int("port", 8928, "WebSocket server port")
	name     = flag.String("name", "", "Hub friendly name (default: hostname-meshsync-hub)")
	logFile  = flag.String("log-file", "meshsync-hub.log", "Log file path")
	debug    = flag.Bool("debug", false, "Enable debug logging")
	noMDNS   = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI    = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	dropRate = flag.Float64("drop-rate", 0, "Fraction of deliveries to drop, 0 to 1")
	rssi     = flag.Int("rssi", -60, "RSSI reported with every relayed advert")
	seed     = flag.Uint64("seed", 1, "Seed for simulated packet loss")
)

func main() {
	flag.Parse()

	if *dropRate < 0 || *dropRate > 1 {
		log.Fatalf("drop-rate must be in [0, 1], got %v", *dropRate)
	}
	if *rssi < -128 || *rssi > 127 {
		log.Fatalf("rssi must fit in int8, got %d", *rssi)
	}

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if useTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	// Determine hub name
	hubName := *name
	if hubName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		hubName = fmt.Sprintf("%s-meshsync-hub", hostname)
	}

	log.Printf("Starting %s %s hub: %s on port %d", version.Product, version.Version, hubName, *port)
	if *debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", *logFile)

	srv := server.New(server.Config{
		Port:       *port,
		Name:       hubName,
		EnableMDNS: !*noMDNS,
		Debug:      *debug,
		UseTUI:     useTUI,
		DropRate:   *dropRate,
		RSSI:       int8(*rssi),
		Seed:       *seed,
	})

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Hub error: %v", err)
	}

	log.Printf("Hub stopped")
}
