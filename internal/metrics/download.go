// Package metrics provides Prometheus metrics for the paper download path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Download outcomes.
const (
	OutcomeSuccess = "success"
	ResultSuccess  = "success"
	ResultCached   = "cached"
	ResultFailed   = "failed"
)

// Download counts fetch attempts and finished downloads.
type Download struct {
	attempts  *prometheus.CounterVec
	downloads *prometheus.CounterVec
}

// NewDownload registers the download collectors on reg. A nil reg leaves them unregistered.
func NewDownload(reg prometheus.Registerer) *Download {
	f := promauto.With(reg)
	return &Download{
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyq_download_attempts_total",
				Help: "Remote fetch attempts made while resolving paper downloads.",
			},
			[]string{"stage", "outcome"},
		),
		downloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyq_downloads_total",
				Help: "Paper downloads by final result.",
			},
			[]string{"result"},
		),
	}
}

// Attempt records one fetch attempt. outcome is "success" or a failure kind.
func (d *Download) Attempt(stage, outcome string) {
	if d == nil {
		return
	}
	d.attempts.WithLabelValues(stage, outcome).Inc()
}

// Result records a finished download.
func (d *Download) Result(result string) {
	if d == nil {
		return
	}
	d.downloads.WithLabelValues(result).Inc()
}
