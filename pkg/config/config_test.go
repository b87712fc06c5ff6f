package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Oracle.Window != 60 || c.Oracle.Baseline != 10 {
		t.Fatalf("unexpected oracle window/baseline %d/%d", c.Oracle.Window, c.Oracle.Baseline)
	}
	if c.Oracle.PollInterval != 3*time.Second {
		t.Fatalf("unexpected poll interval %v", c.Oracle.PollInterval)
	}
	if c.Feed.PingInterval != 30*time.Second || c.Feed.ReconnectDelay != 5*time.Second {
		t.Fatalf("unexpected feed timings %v/%v", c.Feed.PingInterval, c.Feed.ReconnectDelay)
	}
	if c.Activity.PlaceholderAmount != 1.5 {
		t.Fatalf("unexpected placeholder amount %v", c.Activity.PlaceholderAmount)
	}
	if len(c.Oracle.Feeds) != 3 {
		t.Fatalf("expected default oracle feeds, got %d", len(c.Oracle.Feeds))
	}
	if got := c.Fusion.Keywords["ETH"]; len(got) != 3 {
		t.Fatalf("unexpected ETH keywords %v", got)
	}
	if c.Recorder.Backend != "none" {
		t.Fatalf("unexpected backend %q", c.Recorder.Backend)
	}
	if !c.Server.CORS || c.Kafka.AutoCreateTopics {
		t.Fatalf("unexpected cors/auto-create defaults %v/%v", c.Server.CORS, c.Kafka.AutoCreateTopics)
	}
}

func TestParseOverrides(t *testing.T) {
	raw := `
environment: prod
server:
  cors: false
kafka:
  auto_create_topics: true
oracle:
  window: 30
  baseline: 5
  anomaly_drop: 20
feed:
  instruments:
    - id: A
      question: Will Bitcoin reach $100k
      price: 1.0
`
	c, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.CORS || !c.Kafka.AutoCreateTopics {
		t.Fatalf("server/kafka overrides not applied: %v/%v", c.Server.CORS, c.Kafka.AutoCreateTopics)
	}
	if c.Oracle.Window != 30 || c.Oracle.AnomalyDrop != 20 {
		t.Fatalf("overrides not applied: %+v", c.Oracle)
	}
	if len(c.Feed.Instruments) != 1 || c.Feed.Instruments[0].Price != 1.0 {
		t.Fatalf("unexpected instruments %+v", c.Feed.Instruments)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bad backend", "environment: x\nrecorder:\n  backend: s3\n"},
		{"kafka without brokers", "environment: x\nrecorder:\n  backend: kafka\n"},
		{"baseline larger than window", "environment: x\noracle:\n  window: 5\n  baseline: 10\n"},
		{"instrument without id", "environment: x\nfeed:\n  instruments:\n    - question: q\n"},
		{"short indicator history", "environment: x\nindicators:\n  history: 10\n"},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadWithEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("environment: test\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ORACLE_URL", "http://oracle.local")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("RECORDER_BACKEND", "kafka")

	c, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Oracle.URL != "http://oracle.local" {
		t.Fatalf("unexpected oracle url %q", c.Oracle.URL)
	}
	if len(c.Kafka.Brokers) != 2 || c.Recorder.Backend != "kafka" {
		t.Fatalf("env overrides not applied: %v %q", c.Kafka.Brokers, c.Recorder.Backend)
	}
}
