// Package ndi is a client for the NDI verifier platform: it authenticates with
// client credentials, creates proof requests, subscribes to and registers
// webhooks, and decodes the webhook events the platform delivers.
package ndi

import "errors"

var (
	// ErrVerifierUnavailable wraps every transport or protocol failure when
	// talking to the verifier.
	ErrVerifierUnavailable = errors.New("ndi: verifier unavailable")

	// ErrAuthFailed is returned when no access token could be obtained.
	ErrAuthFailed = errors.New("ndi: authentication failed")

	// ErrInvalidEvent is returned for webhook bodies that cannot be decoded.
	ErrInvalidEvent = errors.New("ndi: invalid webhook event")
)
