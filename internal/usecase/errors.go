package usecase

import "errors"

var (
	// ErrInsufficientData is returned when no oracle sample exists yet.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidAddress rejects a registration with a malformed chain address.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrUnknownInstrument is returned for lookups of instruments not in the table.
	ErrUnknownInstrument = errors.New("unknown instrument")
)
