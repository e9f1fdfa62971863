// Package correlation implements the proof-request correlation core: it mints
// local thread ids, maps them to the verifier's thread ids, tracks pending and
// completed verifications with age-based expiry, and absorbs duplicate webhook
// deliveries.
//
// This file centralizes the sentinel errors returned by the package. Handlers
// translate them into HTTP results; callers should compare with errors.Is.
package correlation

import "errors"

var (
	// ErrDuplicateID is returned when a local thread id is registered twice.
	// The generator makes this unreachable in practice, so it signals a bug.
	ErrDuplicateID = errors.New("correlation: duplicate local thread id")

	// ErrUnknownLocalID is returned when an operation names a local thread id
	// that Begin never issued.
	ErrUnknownLocalID = errors.New("correlation: unknown local thread id")

	// ErrInvalidThreadID is returned by GetStatus for ids that are not
	// structurally valid.
	ErrInvalidThreadID = errors.New("correlation: invalid thread id format")

	// ErrMissingAttributes is returned when a provider notification lacks the
	// external identity or display-name attribute.
	ErrMissingAttributes = errors.New("correlation: required attributes missing")

	// ErrEmptyProviderID is returned when a provider thread id is blank.
	ErrEmptyProviderID = errors.New("correlation: empty provider thread id")

	// ErrIdentityExists is returned by IdentityStore.Create when the external
	// id was registered concurrently. The caller treats the identity as known.
	ErrIdentityExists = errors.New("correlation: identity already exists")
)
