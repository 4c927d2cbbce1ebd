package probes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

func TestRegistryBuildsKnownProbes(t *testing.T) {
	reg := NewRegistry()
	for _, class := range []string{"cpu", "memory", "disk", "network"} {
		p, err := reg.New(class, nil)
		if err != nil {
			t.Errorf("New(%q): %v", class, err)
			continue
		}
		if p.Name() == "" {
			t.Errorf("New(%q).Name() is empty", class)
		}
	}
}

func TestRegistryRejectsUnknownClass(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.New("does-not-exist", nil); err == nil {
		t.Fatal("expected error for unknown monitor class")
	}
}

// fakeProbe lets the Workload adapter be tested without touching real host
// counters.
type fakeProbe struct {
	samples int
}

func (f *fakeProbe) Name() string    { return "fake" }
func (f *fakeProbe) Supported() bool { return true }
func (f *fakeProbe) Sample(_ context.Context, now time.Time, tracker *stats.Tracker) error {
	f.samples++
	tracker.AddValue(now, float64(f.samples))
	return nil
}

func TestWorkloadRunSamplesUntilCancelled(t *testing.T) {
	probe := &fakeProbe{}
	reg := &Registry{factories: map[string]Factory{
		"fake": func([]protocol.Parameter) (Probe, error) { return probe, nil },
	}}
	w := NewWorkload(reg, "fake")

	tracker := stats.New(stats.KindFloat, "fake", stats.Owner{}, 1)
	tracker.Start(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// tracker.IntervalSec is seconds, so within this short timeout the run
	// loop should exit via ctx.Done() having taken at most one sample tick.
	if err := w.Run(ctx, nil, tracker); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDiskProbeUsesPathParameter(t *testing.T) {
	p, err := newDiskProbe(nil)
	if err != nil {
		t.Fatalf("newDiskProbe: %v", err)
	}
	if got := p.Name(); got != "disk:/" {
		t.Errorf("default path: Name() = %q, want disk:/", got)
	}

	p, err = newDiskProbe([]protocol.Parameter{{Key: "path", Value: "/tmp"}})
	if err != nil {
		t.Fatalf("newDiskProbe(path=/tmp): %v", err)
	}
	if got := p.Name(); got != "disk:/tmp" {
		t.Errorf("path parameter: Name() = %q, want disk:/tmp", got)
	}
}

func TestLoadDirSkipsDisabledAndNonYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cpu.yaml", "monitor_enabled: true\nmonitor_class: cpu\n")
	writeFile(t, dir, "disk.yaml", "monitor_enabled: false\nmonitor_class: disk\n")
	writeFile(t, dir, "README.md", "not a probe config")

	configs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("LoadDir returned %d configs, want 1 (only the enabled cpu probe)", len(configs))
	}
	if configs[0].MonitorClass != "cpu" {
		t.Errorf("MonitorClass = %q, want cpu", configs[0].MonitorClass)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
