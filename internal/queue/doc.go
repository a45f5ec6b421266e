// Package queue implements the durable job queue at the core of the
// application: submission with deduplication, atomic lease-based claiming,
// heartbeat-driven lease extension, exponential-backoff retry,
// dead-lettering, crash recovery via lease-expiry reclamation, cooperative
// cancellation, and an append-only per-job diagnostic log. Every operation
// executes as a single atomic transaction against the job store; the
// store's transaction isolation is the only concurrency primitive used.
package queue
