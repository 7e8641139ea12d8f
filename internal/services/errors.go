// Package services defines the business logic for newsletter publishing and
// subscriptions. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// Input validation failures are reported as *domain.ValidationError; the
// sentinels below cover the remaining predictable outcomes. Translation into
// HTTP status codes is performed at the handler layer.
package services

import "errors"

// Subscription errors.
var (
	// ErrAlreadySubscribed is returned when the email address is already
	// registered, confirmed or not.
	ErrAlreadySubscribed = errors.New("email already subscribed")

	// ErrUnknownToken is returned when a confirmation token does not exist.
	ErrUnknownToken = errors.New("unknown subscription token")

	// ErrConfirmationEmail is returned when the subscriber was stored but the
	// confirmation email could not be sent.
	ErrConfirmationEmail = errors.New("failed to send confirmation email")
)

// ErrNoRenderer is returned by Publish when called without a response renderer.
var ErrNoRenderer = errors.New("publish: nil response renderer")
