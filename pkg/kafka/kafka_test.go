package kafka

import (
	"errors"
	"testing"
)

func TestIncompleteConfig(t *testing.T) {
	if _, err := NewConsumer(ConsumerConfig{Brokers: []string{"k:9092"}, Topic: "chat-events"}); !errors.Is(err, ErrIncompleteConfig) {
		t.Fatalf("consumer without group: %v", err)
	}
	if _, err := NewProducer(ProducerConfig{Topic: "chat-events"}); !errors.Is(err, ErrIncompleteConfig) {
		t.Fatalf("producer without brokers: %v", err)
	}
}

func TestNewProducerLazyConnect(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "chat-events"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if !p.IsConnected() {
		t.Fatal("producer should start optimistic")
	}
}
