package matrix

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platformsync/releaseflow/internal/metrics"
)

// TargetsTotal counts finished targets by status.
var TargetsTotal = metrics.MustRegisterCounterVec(
	"matrix",
	"targets_total",
	"Number of targets processed, partitioned by status.",
	"status",
)

// TargetDuration observes the duration of target operations by status.
var TargetDuration = metrics.MustRegisterHistogramVec(
	"matrix",
	"target_duration_seconds",
	"Duration of a single target operation.",
	prometheus.ExponentialBuckets(0.1, 2, 10),
	"status",
)

// InProgressGauge is the number of targets currently being processed.
var InProgressGauge = metrics.MustRegisterGauge(
	"matrix",
	"targets_in_progress",
	"Number of targets currently being processed.",
)
