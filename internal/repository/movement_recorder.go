package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SignalFuse/internal/domain/models"
	"SignalFuse/internal/domain/repository"
	pkgkafka "SignalFuse/pkg/kafka"
)

var errNilMovement = errors.New("nil movement")

// movementEvent is the wire shape written to the movements topic and table.
type movementEvent struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	CorrelationKey string    `json:"correlation_key"`
	Kind           string    `json:"kind"`
	Amount         float64   `json:"amount"`
	Token          string    `json:"token"`
	Signature      string    `json:"signature"`
	Timestamp      time.Time `json:"ts"`
}

func toEvent(m *models.Movement) movementEvent {
	return movementEvent{
		ID:             m.ID,
		Address:        m.Address,
		CorrelationKey: m.CorrelationKey,
		Kind:           string(m.Kind),
		Amount:         m.Amount,
		Token:          m.Token,
		Signature:      m.Signature,
		Timestamp:      m.Timestamp.UTC(),
	}
}

// KafkaMovementRecorder publishes movements keyed by address so one
// address stays on one partition.
type KafkaMovementRecorder struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaMovementRecorder(p *pkgkafka.Producer, topic string) repository.MovementRecorder {
	return &KafkaMovementRecorder{producer: p, topic: topic}
}

func (r *KafkaMovementRecorder) Record(ctx context.Context, m *models.Movement) error {
	if m == nil {
		return errNilMovement
	}
	if err := r.producer.Publish(ctx, r.topic, []byte(m.Address), toEvent(m)); err != nil {
		return fmt.Errorf("publish movement %s: %w", m.ID, err)
	}
	return nil
}

// Close is a no-op; the producer is owned by the caller.
func (r *KafkaMovementRecorder) Close() error { return nil }

// MovementSchema returns the DDL for the movements table.
func MovementSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts DateTime64(3, 'UTC'),
	id String,
	address String,
	correlation_key LowCardinality(String),
	kind LowCardinality(String),
	amount Float64,
	token LowCardinality(String),
	signature String
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (address, ts, id)`, table),
	}
}

// ClickHouseMovementRecorder appends movements to a ClickHouse table.
type ClickHouseMovementRecorder struct {
	db    *sql.DB
	table string
	query string
}

func NewClickHouseMovementRecorder(db *sql.DB, table string) repository.MovementRecorder {
	return &ClickHouseMovementRecorder{db: db, table: table, query: insertMovementQuery(table)}
}

func insertMovementQuery(table string) string {
	return fmt.Sprintf("INSERT INTO %s (ts, id, address, correlation_key, kind, amount, token, signature) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", table)
}

func (r *ClickHouseMovementRecorder) Record(ctx context.Context, m *models.Movement) error {
	if m == nil {
		return errNilMovement
	}
	e := toEvent(m)
	_, err := r.db.ExecContext(ctx, r.query,
		e.Timestamp,
		e.ID,
		e.Address,
		e.CorrelationKey,
		e.Kind,
		e.Amount,
		e.Token,
		e.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert movement %s: %w", m.ID, err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the clickhouse client.
func (r *ClickHouseMovementRecorder) Close() error { return nil }
