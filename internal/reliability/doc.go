// Package reliability provides the broker's shared retry discipline: bounded
// exponential backoff with jitter, applied only to errors tagged as
// retryable. The hub gateway client, the authentication client and the
// webhook forwarder all retry through this package so that transient upstream
// failures are handled the same way everywhere.
package reliability
