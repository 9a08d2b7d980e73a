package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDownload(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDownload(reg)

	d.Attempt("original", "auth_required")
	d.Attempt("authenticated", OutcomeSuccess)
	d.Result(ResultSuccess)

	assert.Equal(t, 1.0, testutil.ToFloat64(d.attempts.WithLabelValues("original", "auth_required")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.attempts.WithLabelValues("authenticated", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.downloads.WithLabelValues(ResultSuccess)))

	n, err := testutil.GatherAndCount(reg, "pyq_download_attempts_total", "pyq_downloads_total")
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDownloadNil(t *testing.T) {
	var d *Download
	assert.NotPanics(t, func() {
		d.Attempt("original", OutcomeSuccess)
		d.Result(ResultFailed)
	})
}
