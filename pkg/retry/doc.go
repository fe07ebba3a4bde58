// Package retry provides exponential backoff retry for operations that may
// fail transiently, primarily connection establishment to the TAK endpoint
// and the NATS broker.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Persistent(), func() error {
//	    return sender.connect()
//	})
//
// Errors wrapped with NonRetryable abort immediately; context cancellation
// aborts between attempts and during backoff sleeps.
package retry
