// ABOUTME: Tests for burst statistics
// ABOUTME: Tests collection, the CSV format and sink fan-out
package stats

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/meshsync-go/internal/burst"
)

func sampleBurst() Burst {
	local := burst.New(4, false)
	rcv := burst.New(4, false)
	local.Record(0, 100)
	local.Record(1, 200)
	local.Record(2, 300)
	rcv.Record(0, 1100)
	rcv.Record(2, 1300)
	rcv.Record(3, 1400)
	return Collect("node-a", 7, local, rcv)
}

func TestCollect(t *testing.T) {
	b := sampleBurst()

	if len(b.Slots) != 4 || b.Round != 7 || b.Node != "node-a" {
		t.Fatalf("unexpected burst %+v", b)
	}
	if b.Valid() != 2 {
		t.Errorf("expected 2 valid slots, got %d", b.Valid())
	}
	if !b.Slots[2].Valid || b.Slots[2].LocalTicks != 300 || b.Slots[2].RemoteTicks != 1300 {
		t.Errorf("unexpected slot 2: %+v", b.Slots[2])
	}
	if b.Slots[1].Valid || b.Slots[3].Valid {
		t.Error("expected one-sided slots to be invalid")
	}
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewCSVSink(&buf)
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}

	if err := sink.Write(sampleBurst()); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header plus 4 rows, got %d lines", len(lines))
	}
	if lines[0] != "timeslot_idx;rcv_time;local_time;valid" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[1] != "0;1100;100;1" {
		t.Errorf("unexpected row %q", lines[1])
	}
	if lines[2] != "1;0;200;0" {
		t.Errorf("unexpected row %q", lines[2])
	}
}

func TestOpenCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.csv")
	sink, err := OpenCSV(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	sink.Write(sampleBurst())
	if err := sink.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if strings.Count(string(data), "\n") != 5 {
		t.Errorf("expected 5 lines, got %q", data)
	}
}

type failingSink struct{ writes int }

func (f *failingSink) Write(Burst) error {
	f.writes++
	return errors.New("boom")
}

func (f *failingSink) Close() error { return nil }

func TestMultiWritesEverySink(t *testing.T) {
	var buf bytes.Buffer
	csvSink, _ := NewCSVSink(&buf)
	bad := &failingSink{}

	m := Multi{bad, csvSink}
	err := m.Write(sampleBurst())
	if err == nil {
		t.Error("expected joined error")
	}
	if bad.writes != 1 {
		t.Errorf("expected failing sink to be called once, got %d", bad.writes)
	}
	if !strings.Contains(buf.String(), "3;1400;0;0") {
		t.Errorf("expected csv sink to still receive rows, got %q", buf.String())
	}
	if err := m.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestRedisSinkUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := NewRedisSink(ctx, "127.0.0.1:1", "meshsync:bursts"); err == nil {
		t.Error("expected connection error")
	}
}
