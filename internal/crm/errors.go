package crm

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")

	// ErrEmptyBatch is returned when a delivery carries no records at all.
	ErrEmptyBatch = errors.New("no records in data")
)
