package models

import "errors"

// Sentinel errors shared across the engine. Callers branch on these
// with errors.Is; wrap them with fmt.Errorf("...: %w", ...) to add
// context without losing the classification.
var (
	// ErrRateLimited marks a provider rate-limit condition (HTTP 429).
	// Rate-limited jobs are re-queued, never failed.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrInvalidResponse marks a provider response that could not be
	// decoded into the expected payload. Terminal for that attempt.
	ErrInvalidResponse = errors.New("provider returned invalid response")

	// ErrNoProviderAvailable is returned by selection when every
	// provider is disabled, cooling down, or classified down.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrAllProvidersFailed is the terminal job error raised after the
	// fallback chain exhausted every enabled provider.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrDispatcherStopped is delivered to queued jobs when the
	// dispatcher shuts down before they run.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)
