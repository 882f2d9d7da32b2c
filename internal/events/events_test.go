package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "topic"); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{" ", ""}, "topic"); err == nil {
		t.Error("expected error with blank brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error without topic")
	}

	p, err := NewKafkaPublisher([]string{"localhost:9092", "localhost:9093"}, "laboras.sessions")
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	defer p.Close()
	if p.writer.Topic != "laboras.sessions" {
		t.Errorf("topic = %s", p.writer.Topic)
	}
}

func TestKafkaMessage(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "laboras.sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := p.message(Event{Type: SessionCompleted, SessionID: "session-1", DurationMs: 5000, Timestamp: at})
	if err != nil {
		t.Fatalf("message failed: %v", err)
	}
	if string(msg.Key) != "session-1" {
		t.Errorf("key = %s", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("time = %v", msg.Time)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if decoded.Type != SessionCompleted || decoded.DurationMs != 5000 {
		t.Errorf("unexpected payload: %+v", decoded)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["type"] != string(SessionCompleted) || headers["source"] != "laboras" {
		t.Errorf("unexpected headers: %v", headers)
	}

	if _, err := p.message(Event{Type: SessionStarted}); err == nil {
		t.Error("expected error without session id")
	}
}

func TestKafkaMessageDefaultsTimestamp(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "t")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	msg, err := p.message(Event{Type: SessionStarted, SessionID: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Time.IsZero() {
		t.Error("timestamp should default to now")
	}
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Error(err)
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}
