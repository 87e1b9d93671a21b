package domain

import "errors"

// Sentinel errors for the domain layer. The first four are the failures a
// user can see; each is recoverable by retrying the action that caused it.
var (
	// ErrAuthRequestFailed is returned when a magic link could not be issued or delivered.
	ErrAuthRequestFailed = errors.New("magic link request failed")

	// ErrFetchFailed is returned when a conversation's history could not be loaded.
	ErrFetchFailed = errors.New("failed to load messages")

	// ErrSendFailed is returned when an outgoing message could not be stored.
	ErrSendFailed = errors.New("failed to send message")

	// ErrSubscriptionDropped is reported when the change feed stops delivering updates.
	ErrSubscriptionDropped = errors.New("live updates interrupted")

	ErrInvalidToken = errors.New("invalid or expired login link")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("requested resource not found")
)
