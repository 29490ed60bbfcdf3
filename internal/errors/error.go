// Package errors provides custom error types for product storage operations.
package errors

import "errors"

var (
	// ErrProductNotFound is returned when no product exists for a given ID.
	ErrProductNotFound = errors.New("product not found")

	// ErrDuplicateProduct is returned when a save would create a second record
	// for the same source item (matching duplicate fingerprint or ID).
	ErrDuplicateProduct = errors.New("duplicate product")

	// ErrInvalidProduct is returned when a record fails validation.
	ErrInvalidProduct = errors.New("invalid product")

	// ErrUnknownStorageType is returned by the storage factory for an
	// unrecognized storage type in the configuration.
	ErrUnknownStorageType = errors.New("unknown storage type")

	// ErrTransactionClosed is returned when an operation is attempted on a
	// transaction that has already been committed or rolled back.
	ErrTransactionClosed = errors.New("transaction is no longer active")
)
