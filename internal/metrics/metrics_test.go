package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(TeardownFailures.WithLabelValues("release_mirror"))
	IncTeardownFailure("release_mirror")
	assert.Equal(t, before+1, testutil.ToFloat64(TeardownFailures.WithLabelValues("release_mirror")))

	samples := testutil.ToFloat64(DrainSamples)
	bytes := testutil.ToFloat64(DrainBytes)
	ObserveSample(128)
	assert.Equal(t, samples+1, testutil.ToFloat64(DrainSamples))
	assert.Equal(t, bytes+128, testutil.ToFloat64(DrainBytes))

	s := testutil.ToFloat64(SessionsTotal.WithLabelValues("encoder", "started"))
	IncSession("encoder", "started")
	assert.Equal(t, s+1, testutil.ToFloat64(SessionsTotal.WithLabelValues("encoder", "started")))
}
