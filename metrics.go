package interceptz

// Metrics provides observability data for a Loop.
// All counter fields use atomic operations for thread safety.
// Capacity fields are static and don't require atomics.
type Metrics struct {
	// Queue Metrics
	QueueDepth    int64 // Current tasks waiting for a worker (atomic)
	QueueCapacity int64 // Queue capacity (static)

	// Throughput Counters (atomic operations required)
	TasksProcessed int64 // Tasks completed by a worker
	TasksFailed    int64 // Tasks that panicked
	TasksInlined   int64 // Tasks run on the submitting goroutine (queue full or loop closed)
}
