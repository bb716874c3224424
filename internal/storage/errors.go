package storage

import "errors"

// Storage errors shared by all store implementations.
var (
	// ErrDuplicateKey is returned when inserting a candle whose key already
	// exists. The candles table is append-only; feature upserts never
	// return this.
	ErrDuplicateKey = errors.New("duplicate key: candle store is append-only")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
