package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestNewProducerAppliesOptions(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatalf("expected error without brokers")
	}

	p, err := NewProducer(
		WithBrokers([]string{"localhost:9092"}),
		WithHashByKey(false),
		WithAutoCreateTopics(true),
	)
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.writer.Close()
	if !p.writer.AllowAutoTopicCreation {
		t.Fatalf("auto topic creation not applied")
	}
	if _, ok := p.writer.Balancer.(*kafka.LeastBytes); !ok {
		t.Fatalf("expected least-bytes balancer, got %T", p.writer.Balancer)
	}
}
