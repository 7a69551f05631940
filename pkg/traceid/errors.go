package traceid

import "errors"

// Identifier parsing and construction errors
var (
	// ErrInvalidIDLength is returned when an identifier string is not exactly 8 characters
	ErrInvalidIDLength = errors.New("invalid trace ID length")

	// ErrInvalidIDPrefix is returned when an identifier does not start with 'D'
	ErrInvalidIDPrefix = errors.New("invalid trace ID prefix")

	// ErrInvalidIDCharacter is returned when an identifier field contains a non-digit
	ErrInvalidIDCharacter = errors.New("invalid trace ID character")

	// ErrInvalidCategory is returned for an unknown category name or digit
	ErrInvalidCategory = errors.New("invalid trace category")

	// ErrBenchmarkIndexRange is returned when a benchmark index is outside 1..99
	ErrBenchmarkIndexRange = errors.New("benchmark index out of range")

	// ErrSequenceRange is returned when a sequence number is outside 0..9999
	ErrSequenceRange = errors.New("sequence number out of range")
)
