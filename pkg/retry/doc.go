// Package retry provides exponential backoff with jitter for transient
// failures.
//
// Feature-store clients wrap their HTTP and database calls in Do, classifying
// errors through Config.Retryable so that only transport failures are retried:
//
//	cfg := retry.DefaultConfig()
//	cfg.Retryable = errors.IsTransient
//	body, err := retry.DoWithResult(ctx, cfg, func() ([]byte, error) {
//	    return c.post(ctx, endpoint, form)
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately regardless of the
// classifier. Do honours ctx during the call and during backoff.
//
// Presets: DefaultConfig (3 attempts, 200ms to 5s), Quick (10 attempts, 50ms
// to 1s) for startup, Persistent (30 attempts, 200ms to 10s) for critical
// resources such as the NATS connection.
package retry
