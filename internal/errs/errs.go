// Package errs defines the typed error-kind sentinels shared across
// Kait's core, matching §7 of the spec: callers use errors.Is/errors.As
// against these rather than string-matching messages.
package errs

import "errors"

// Kind is a coarse error category every core component reports through.
type Kind string

const (
	KindStorage           Kind = "storage"
	KindProviderTimeout   Kind = "provider_timeout"
	KindProviderRateLimit Kind = "provider_rate_limit"
	KindProviderAuth      Kind = "provider_auth"
	KindProviderConn      Kind = "provider_connection"
	KindProviderAPI       Kind = "provider_api"
	KindCircuitOpen       Kind = "circuit_open"
	KindLockHeld          Kind = "supervisor_lock_held"
	KindStartFailed       Kind = "supervisor_start_failed"
	KindIngestRateLimited Kind = "ingest_rate_limited"
	KindIngestInvalid     Kind = "ingest_invalid"
)

// Sentinel errors. Wrap with fmt.Errorf("...: %w", ErrStorage) to attach
// context while keeping errors.Is(err, ErrStorage) true.
var (
	ErrStorage           = errors.New(string(KindStorage))
	ErrProviderTimeout   = errors.New(string(KindProviderTimeout))
	ErrProviderRateLimit = errors.New(string(KindProviderRateLimit))
	ErrProviderAuth      = errors.New(string(KindProviderAuth))
	ErrProviderConnection = errors.New(string(KindProviderConn))
	ErrProviderAPI       = errors.New(string(KindProviderAPI))
	ErrCircuitOpen       = errors.New(string(KindCircuitOpen))
	ErrLockHeld          = errors.New(string(KindLockHeld))
	ErrStartFailed       = errors.New(string(KindStartFailed))
	ErrIngestRateLimited = errors.New(string(KindIngestRateLimited))
	ErrIngestInvalid     = errors.New(string(KindIngestInvalid))
)

// RetryAfterError is returned by the ingest rate limiter; callers read
// RetryAfter to decide how long to back off.
type RetryAfterError struct {
	RetryAfterSeconds float64
}

func (e *RetryAfterError) Error() string { return "ingest: rate limited" }
func (e *RetryAfterError) Unwrap() error { return ErrIngestRateLimited }
