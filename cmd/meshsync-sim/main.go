// ABOUTME: In-process mesh simulation
// ABOUTME: Chains an authority and skewed clients over a simulated medium and reports their error
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/stats"
	"github.com/Resonate-Protocol/meshsync-go/internal/version"
	"github.com/Resonate-Protocol/meshsync-go/pkg/meshsync"
)

var (
	clients  = flag.Int("clients", 3, "Number of client nodes, chained one hop apart")
	rounds   = flag.Int("rounds", 5, "Number of sync rounds")
	slots    = flag.Int("slots", 10, "Timestamped slots per burst")
	interval = flag.Duration("slot-interval", 10*time.Millisecond, "Delay between slots")
	depth    = flag.Int("history", 4, "Rounds of history used by the regression")
	maxPPM   = flag.Float64("ppm", 100, "Maximum client drift in parts per million")
	dropRate = flag.Float64("drop-rate", 0, "Fraction of deliveries to drop, 0 to 1")
	seed     = flag.Uint64("seed", 1, "Seed for clock skew and packet loss")
	statsDir = flag.String("stats-dir", "", "Write per-node slot statistics CSV files to this directory")
	verbose  = flag.Bool("v", false, "Show node logs")
)

type simNode struct {
	name    string
	ppm     float64
	node    *meshsync.Node
	updates chan meshsync.Update
}

// push never blocks the sync worker
func (n *simNode) push(u meshsync.Update) {
	select {
	case n.updates <- u:
	default:
	}
}

func main() {
	flag.Parse()

	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if *clients < 1 || *rounds < 1 {
		fmt.Fprintln(os.Stderr, "need at least one client and one round")
		os.Exit(2)
	}

	fmt.Printf("=== %s %s simulation ===\n", version.Product, version.Version)
	fmt.Printf("%d clients, %d rounds, %d slots every %v, drift up to ±%.0f ppm, drop rate %.2f\n\n",
		*clients, *rounds, *slots, *interval, *maxPPM, *dropRate)

	medium := meshsync.NewMedium(meshsync.MediumConfig{DropRate: *dropRate, Seed: *seed})
	rng := rand.New(rand.NewPCG(*seed, *seed+1))
	base := meshsync.MonotonicTicks{}

	nodes := make([]*simNode, 0, *clients+1)
	for i := 0; i <= *clients; i++ {
		n := &simNode{name: fmt.Sprintf("node-%d", i), updates: make(chan meshsync.Update, *rounds*2)}

		var ticks meshsync.TickSource = base
		if i > 0 {
			n.ppm = (rng.Float64()*2 - 1) * *maxPPM
			ticks = meshsync.SkewedTicks{Base: base, PPM: n.ppm, Offset: rng.Uint64N(1 << 30)}
		}

		sink, err := openStats(n.name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stats: %v\n", err)
			os.Exit(1)
		}

		node, err := meshsync.NewNode(meshsync.NodeConfig{
			Name:          n.name,
			Transport:     medium.Attach(n.name),
			Ticks:         ticks,
			SlotsPerBurst: *slots,
			HistoryDepth:  *depth,
			SlotInterval:  *interval,
			Stats:         sink,
			OnUpdate:      n.push,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", n.name, err)
			os.Exit(1)
		}
		n.node = node
		nodes = append(nodes, n)

		// Each node only hears its neighbours in the chain
		if i > 0 {
			medium.Link(nodes[i-1].name, n.name)
		}
	}
	defer func() {
		for _, n := range nodes {
			n.node.Close()
		}
	}()

	authority := nodes[0].node
	authority.SetRole(meshsync.RoleAuthority)
	for _, n := range nodes[1:] {
		n.node.SetRole(meshsync.RoleClient)
	}
	for _, n := range nodes {
		n.node.Init()
	}

	// Every hop waits out a full receive window before relaying
	roundTime := time.Duration(*clients+1) * time.Duration(*slots+2) * *interval
	time.Sleep(50 * time.Millisecond)

	for r := 0; r < *rounds; r++ {
		if r == 0 {
			authority.StartNetworkSyncWithEpoch(uint64(time.Now().UnixMicro()))
		} else {
			authority.StartNetworkSync()
		}

		deadline := time.After(roundTime + time.Second)
		results := make([]string, len(nodes))
		for i, n := range nodes[1:] {
			select {
			case u := <-n.updates:
				if u.Err != nil {
					results[i+1] = u.Err.Error()
				}
			case <-deadline:
				results[i+1] = "no round"
			}
		}

		report(r, nodes, results)
	}

	s := medium.Stats()
	fmt.Printf("medium: %d adverts sent, %d delivered, %d dropped\n", s.Sent, s.Delivered, s.Dropped)
}

// report prints every client's error against the authority
func report(round int, nodes []*simNode, results []string) {
	fmt.Printf("round %d\n", round)

	ref := nodes[0].node.LogicalTicks()
	refUnix := nodes[0].node.CurrentUnixTimeMicros()
	for i, n := range nodes[1:] {
		diff := int64(n.node.LogicalTicks() - ref)
		unixDiff := int64(n.node.CurrentUnixTimeMicros() - refUnix)
		status := n.node.Status()

		line := fmt.Sprintf("  hop %d %-8s drift %+7.1f ppm  error %+8.3f ms  unix %+8.3f ms  slope %.9f  %s",
			i+1, n.name, n.ppm,
			float64(diff)*1000/meshsync.TickRateHz, float64(unixDiff)/1000,
			status.Slope, status.Quality)
		if results[i+1] != "" {
			line += "  (" + results[i+1] + ")"
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func openStats(name string) (meshsync.StatsSink, error) {
	if *statsDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(*statsDir, 0755); err != nil {
		return nil, err
	}
	return stats.OpenCSV(filepath.Join(*statsDir, name+".csv"))
}
