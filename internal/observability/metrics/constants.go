// Package metrics defines the Prometheus collectors of the mitra pipeline.
package metrics

// Stage names used as label values.
const (
	StageIngest    = "ingest"
	StageExpand    = "expand"
	StageUpload    = "upload"
	StageAlerts    = "alerts"
	StageResolve   = "resolve"
	StageLink      = "link_alerts"
	StagePropagate = "propagate"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Link kinds for the link state gauge.
const (
	KindRecordLinks = "record_links"
	KindAlertLinks  = "alert_links"
)

// Histogram bucket parameters.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for 100ms histograms.
	BucketStart100ms = 0.1
	// BucketFactor2 is the common exponential growth factor.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)
