package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EphemerisCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predstorm_ephemeris_calls_total",
			Help: "Total ephemeris service trajectory calls",
		},
		[]string{"body", "status"},
	)

	EphemerisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predstorm_ephemeris_latency_seconds",
			Help:    "Ephemeris service call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"body"},
	)

	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predstorm_samples_ingested_total",
			Help: "Total solar wind samples successfully ingested",
		},
		[]string{"source"},
	)

	FillValuesMasked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predstorm_fill_values_masked_total",
			Help: "Total fill or out-of-range values replaced by NaN",
		},
		[]string{"source", "variable"},
	)

	ForecastRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predstorm_forecast_runs_total",
			Help: "Total analogue forecast runs",
		},
		[]string{"status"},
	)

	ForecastSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predstorm_forecast_search_seconds",
			Help:    "Analogue search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"policy"},
	)

	VerificationRMSE = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "predstorm_verification_rmse",
			Help: "Root mean square error of the last verified forecast",
		},
		[]string{"variable"},
	)
)
