// ABOUTME: Tests for node application orchestration
// ABOUTME: Tests configuration, stats sinks and a full start against a local hub
package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/config"
	"github.com/Resonate-Protocol/meshsync-go/internal/server"
	"github.com/Resonate-Protocol/meshsync-go/internal/statemachine"
	"github.com/Resonate-Protocol/meshsync-go/internal/stats"
)

func TestNewUsesDefaults(t *testing.T) {
	a, err := New(Config{})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	if a.role != statemachine.RoleClient {
		t.Errorf("expected default client role, got %s", a.role)
	}
	if !strings.HasPrefix(a.config.File.Node.Name, "node-") {
		t.Errorf("expected generated name, got %q", a.config.File.Node.Name)
	}
	if a.nodeID == "" {
		t.Error("expected node id")
	}
	if a.ctx == nil || a.cancel == nil {
		t.Error("context should be initialized")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Node.Role = "observer"

	if _, err := New(Config{File: cfg}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestOpenStatsNone(t *testing.T) {
	sink, err := OpenStats(context.Background(), config.StatsConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink != nil {
		t.Errorf("expected no sink, got %T", sink)
	}
}

func TestOpenStatsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bursts.csv")

	sink, err := OpenStats(context.Background(), config.StatsConfig{CSVPath: path})
	if err != nil {
		t.Fatalf("failed to open stats: %v", err)
	}
	defer sink.Close()

	if _, ok := sink.(*stats.CSVSink); !ok {
		t.Errorf("expected a CSV sink, got %T", sink)
	}
}

func TestOpenStatsUnreachableRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := OpenStats(ctx, config.StatsConfig{
		CSVPath:   filepath.Join(t.TempDir(), "bursts.csv"),
		RedisAddr: "127.0.0.1:1",
	})
	if err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestResolveHubWithoutDiscovery(t *testing.T) {
	cfg := config.Default()
	cfg.Radio.Discover = false

	a, err := New(Config{File: cfg})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	if _, err := a.resolveHub(); err == nil {
		t.Error("expected error without hub address or discovery")
	}

	cfg.Radio.HubAddr = "10.0.0.1:8928"
	addr, err := a.resolveHub()
	if err != nil || addr != "10.0.0.1:8928" {
		t.Errorf("expected configured hub, got %q, %v", addr, err)
	}
}

func TestStartAgainstHub(t *testing.T) {
	hub := server.New(server.Config{Name: "test-hub"})
	ts := httptest.NewServer(hub.Handler())
	defer ts.Close()

	cfg := config.Default()
	cfg.Node.Name = "authority"
	cfg.Node.Role = "authority"
	cfg.Radio.HubAddr = strings.TrimPrefix(ts.URL, "http://")
	cfg.Sync.SlotsPerBurst = 4
	cfg.Sync.SlotInterval = "1ms"
	cfg.Persistence.Path = filepath.Join(t.TempDir(), "node.db")

	a, err := New(Config{File: cfg, AutoSync: time.Hour})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	errs := make(chan error, 1)
	go func() { errs <- a.Start() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n := a.Node(); n != nil && n.Status().EpochValid {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("node never started an epoch round")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if clients := hub.Clients(); len(clients) != 1 || clients[0].Name != "authority" {
		t.Errorf("expected the node registered at the hub, got %+v", clients)
	}

	a.Stop()

	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return after stop")
	}

	select {
	case <-a.Done():
	default:
		t.Error("expected done after stop")
	}
}
