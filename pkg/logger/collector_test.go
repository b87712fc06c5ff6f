package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollectorDeduplicatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub, Service: "signalfuse"})

	for i := 0; i < 3; i++ {
		l.Error("recorder failed", String("address", "abc"), Error(errors.New("boom")))
	}
	l.Info("not collected")
	l.Warn("not collected either")
	l.RemoveCollector()

	got := pub.entries()
	if len(got) != 1 {
		t.Fatalf("expected 1 aggregated entry, got %d", len(got))
	}
	if got[0].Count != 3 {
		t.Fatalf("expected count 3, got %d", got[0].Count)
	}
	if got[0].Service != "signalfuse" || got[0].Level != "error" {
		t.Fatalf("unexpected entry %+v", got[0])
	}
}

func TestCollectorWarnings(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Publisher: pub, CollectWarnings: true})
	l.Warn("slow subscriber", Float64("ratio", 0.5))
	l.RemoveCollector()

	got := pub.entries()
	if len(got) != 1 || got[0].Level != "warn" {
		t.Fatalf("expected one warn entry, got %+v", got)
	}
}

func TestWithSharesCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Publisher: pub})
	l.With("oracle").Error("poll failed")
	l.RemoveCollector()

	if len(pub.entries()) != 1 {
		t.Fatalf("child logger should reach parent collector")
	}
}
