// Package query orchestrates resilient data access. A Resource composes a
// transport, a cache, a circuit breaker, and a request fingerprint into a
// single observable value that deduplicates identical requests, retries
// transient failures, serves stale data while revalidating, and refreshes on
// an interval. A Mutation is the one-shot write counterpart with lifecycle
// hooks and optional offline queueing.
package query
