// Package errors provides standardized error handling patterns for DragonSync.
//
// Errors are classified into three classes: Transient (temporary, retryable),
// Invalid (bad input, do not retry), and Fatal (unrecoverable, stop processing).
// Classification drives the pipeline's failure-absorption contract: transport
// and sink failures are transient and logged, malformed telemetry is invalid
// and dropped, and only configuration problems are fatal at startup.
//
// All wrapping follows the format "component.method: action failed: %w":
//
//	errors.WrapTransient(err, "CotSender", "SendEvent", "tcp write")
//	errors.WrapInvalid(err, "Normalizer", "Parse", "top-level shape")
//
// Classification is preserved through error chains and integrates with
// errors.Is, errors.As, and error wrapping from the standard library.
package errors
