package models

import "errors"

// Error taxonomy for the correlation engine. Callers branch with errors.Is;
// wrapping retains the source annotation.
var (
	// ErrSourceUnavailable marks one signal source as down; the request
	// degrades to a partial context.
	ErrSourceUnavailable = errors.New("signal source unavailable")
	// ErrSourceTimeout marks one signal source as over its fetch budget.
	ErrSourceTimeout = errors.New("signal source timed out")
	// ErrAllSourcesFailed is fatal for the request; the result is not cached.
	ErrAllSourcesFailed = errors.New("all signal sources failed")
	// ErrInsufficientBaseline is a valid detection outcome, not a failure:
	// the baseline has not accumulated enough history to assess.
	ErrInsufficientBaseline = errors.New("insufficient baseline data")
	// ErrCapabilityUnavailable marks an optional capability (generative
	// explanation, model scoring) as down; the stage is skipped.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrInvalidCorrelationID rejects malformed identifiers before fan-out.
	ErrInvalidCorrelationID = errors.New("invalid correlation id")
)
