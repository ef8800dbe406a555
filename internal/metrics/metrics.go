package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsScanned tracks candidate items pulled from sources
	ItemsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_items_scanned_total",
			Help: "Total number of candidate items scanned",
		},
		[]string{"protocol"},
	)

	// ExtractionMisses tracks items with no recoverable transaction id
	ExtractionMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_extraction_misses_total",
			Help: "Total number of items no transaction id could be extracted from",
		},
		[]string{"protocol"},
	)

	// RecordsExtracted tracks successfully extracted records
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_records_extracted_total",
			Help: "Total number of transaction records extracted",
		},
		[]string{"protocol"},
	)

	// DuplicatesSkipped tracks records dropped by the seen set
	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_duplicates_skipped_total",
			Help: "Total number of records skipped as already seen",
		},
		[]string{"protocol"},
	)

	// MatchesTotal tracks affiliate matches per protocol and rule
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_matches_total",
			Help: "Total number of affiliate rule hits",
		},
		[]string{"protocol", "rule"},
	)

	// LowConfidenceTotal tracks records flagged for manual review
	LowConfidenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_low_confidence_total",
			Help: "Total number of records flagged low confidence",
		},
		[]string{"protocol"},
	)

	// SourceErrors tracks failed source passes per protocol and kind
	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_source_errors_total",
			Help: "Total number of source pass failures",
		},
		[]string{"protocol", "kind"},
	)

	// SinkWrites tracks records appended per sink
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_sink_writes_total",
			Help: "Total number of records appended to sinks",
		},
		[]string{"sink"},
	)

	// SinkErrors tracks failed appends per sink
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affwatch_sink_errors_total",
			Help: "Total number of failed sink appends",
		},
		[]string{"sink"},
	)

	// FetchLatency tracks outbound call latency per source
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "affwatch_fetch_latency_seconds",
			Help:    "Outbound HTTP call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// LastPollTimestamp tracks when each source last completed a pass
	LastPollTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "affwatch_last_poll_timestamp_seconds",
			Help: "Unix timestamp of the last completed source pass",
		},
		[]string{"source"},
	)

	// SeenSetSize tracks the size of the dedup seen set
	SeenSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "affwatch_seen_set_size",
			Help: "Number of transaction ids in the seen set",
		},
	)
)
