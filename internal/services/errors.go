// Package services holds the business logic that sits between the HTTP layer
// and persistence. This file centralizes service-level error values so that
// they can be returned consistently and checked by callers with errors.Is.
package services

import "errors"

// Identity-related errors.
var (
	// ErrEmptyIDNumber is returned when an identity has a blank id number.
	ErrEmptyIDNumber = errors.New("id number is empty")

	// ErrEmptyName is returned when an identity has a blank display name.
	ErrEmptyName = errors.New("name is empty")
)
