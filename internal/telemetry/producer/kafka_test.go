package producer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"site-scheduler/backend/internal/telemetry/domain"
)

func TestNewKafkaProducer_Disabled(t *testing.T) {
	p, err := NewKafkaProducer(nil, "topic")
	if err != nil || p != nil {
		t.Fatalf("no brokers: got (%v, %v), want (nil, nil)", p, err)
	}
	p, err = NewKafkaProducer([]string{"localhost:9092"}, "")
	if err != nil || p != nil {
		t.Fatalf("no topic: got (%v, %v), want (nil, nil)", p, err)
	}
}

func TestKafkaProducer_NilSafe(t *testing.T) {
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &domain.Event{EventType: "x"}); err != nil {
		t.Errorf("nil Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestEncode(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	payload, err := encode(&domain.Event{
		UserID:    "u1",
		OrgID:     "o1",
		EventType: domain.TypeOrgSwitched,
		Metadata:  []byte(`{"from":"o0"}`),
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["user_id"] != "u1" || got["org_id"] != "o1" || got["event_type"] != domain.TypeOrgSwitched {
		t.Errorf("payload = %v", got)
	}
	meta, ok := got["metadata"].(map[string]any)
	if !ok || meta["from"] != "o0" {
		t.Errorf("metadata = %v", got["metadata"])
	}
}

func TestEncode_InvalidMetadataDropped(t *testing.T) {
	payload, err := encode(&domain.Event{EventType: "x", Metadata: []byte("not json")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := got["metadata"]; ok {
		t.Error("invalid metadata should be omitted")
	}
}
