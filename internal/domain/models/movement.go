package models

import "time"

// TrackedAddress is a chain address under watch.
type TrackedAddress struct {
	Address        string    `json:"address"`
	CorrelationKey string    `json:"correlationKey"`
	Since          time.Time `json:"since"`
}

// MovementKind classifies on-chain activity.
type MovementKind string

const (
	MovementDeposit  MovementKind = "deposit"
	MovementWithdraw MovementKind = "withdraw"
	MovementTrade    MovementKind = "trade"
)

// Movement is an append-only ledger record. Never mutated once recorded.
type Movement struct {
	ID             string       `json:"id"`
	Address        string       `json:"address"`
	CorrelationKey string       `json:"correlationKey"`
	Kind           MovementKind `json:"kind"`
	Amount         float64      `json:"amount"`
	Token          string       `json:"token"`
	Timestamp      time.Time    `json:"timestamp"`
	Signature      string       `json:"sourceSignature"`
}

// LogNotification is a decoded address-scoped log event.
// Err is non-empty when the transaction failed.
type LogNotification struct {
	Address   string
	Signature string
	Err       string
	Logs      []string
}
