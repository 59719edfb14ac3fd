// Package metrics provides constants used across metric definitions.
package metrics

// Status label values.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusRejected = "rejected"
	StatusBusy     = "busy"
)

// Histogram bucket parameters.
const (
	// BucketStart10ms is the first duration bucket boundary in seconds.
	BucketStart10ms = 0.01
	// BucketStart1ms is the first duration bucket boundary for fast handlers.
	BucketStart1ms = 0.001
	// BucketStart1KB is the first size bucket boundary in bytes.
	BucketStart1KB = 1024
	// BucketFactor2 doubles each bucket.
	BucketFactor2 = 2
	// BucketFactor4 quadruples each bucket.
	BucketFactor4 = 4
	// BucketCount12 gives 12 buckets.
	BucketCount12 = 12
	// BucketCount16 gives 16 buckets.
	BucketCount16 = 16
	// BucketCount11 gives 11 buckets.
	BucketCount11 = 11
)
