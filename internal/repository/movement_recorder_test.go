package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"SignalFuse/internal/domain/models"
)

func TestToEventNormalizesTimestamp(t *testing.T) {
	loc := time.FixedZone("X", 7*3600)
	m := &models.Movement{
		ID:        "m1",
		Address:   "addr",
		Kind:      models.MovementWithdraw,
		Amount:    1.5,
		Token:     "SOL",
		Timestamp: time.Date(2024, 1, 1, 7, 0, 0, 0, loc),
	}
	e := toEvent(m)
	if e.Timestamp.Location() != time.UTC || e.Timestamp.Hour() != 0 {
		t.Fatalf("expected UTC midnight, got %v", e.Timestamp)
	}
	if e.Kind != "withdraw" {
		t.Fatalf("unexpected kind %q", e.Kind)
	}
}

func TestInsertMovementQuery(t *testing.T) {
	q := insertMovementQuery("movements")
	if !strings.HasPrefix(q, "INSERT INTO movements (") {
		t.Fatalf("unexpected query %q", q)
	}
	if n := strings.Count(q, "?"); n != 8 {
		t.Fatalf("expected 8 placeholders, got %d", n)
	}
}

func TestMovementSchemaNamesTable(t *testing.T) {
	stmts := MovementSchema("signalfuse.movements")
	if len(stmts) != 1 || !strings.Contains(stmts[0], "IF NOT EXISTS signalfuse.movements") {
		t.Fatalf("unexpected schema %v", stmts)
	}
}

func TestRecordersRejectNil(t *testing.T) {
	ch := &ClickHouseMovementRecorder{}
	if err := ch.Record(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil movement")
	}
	k := &KafkaMovementRecorder{}
	if err := k.Record(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil movement")
	}
}
