package metrics_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"revloop/internal/metrics"
)

func TestComputeReportMetrics(t *testing.T) {
	m := metrics.ComputeReportMetrics(3500, 12.5, 5000)
	assert.InDelta(t, 280.0, m.DollarPerHour, 0.001)
	assert.InDelta(t, 70.0, m.WinRate, 0.001)
}

func TestComputeReportMetricsOverPerformance(t *testing.T) {
	m := metrics.ComputeReportMetrics(6000, 10, 5000)
	assert.InDelta(t, 120.0, m.WinRate, 0.001)
}

func TestComputeReportMetricsZeroTarget(t *testing.T) {
	m := metrics.ComputeReportMetrics(3500, 10, 0)
	assert.Equal(t, 0.0, m.WinRate)
	assert.InDelta(t, 350.0, m.DollarPerHour, 0.001)
}

func TestComputeRevenueDelta(t *testing.T) {
	delta := metrics.ComputeRevenueDelta(1000, []float64{600, 700})
	assert.InDelta(t, 1.3, delta, 0.001)
}

func TestComputeRevenueDeltaZeroBaseline(t *testing.T) {
	assert.True(t, math.IsInf(metrics.ComputeRevenueDelta(0, []float64{100}), 1))
	assert.Equal(t, 0.0, metrics.ComputeRevenueDelta(0, nil))
	assert.Equal(t, 0.0, metrics.ComputeRevenueDelta(0, []float64{0, 0}))
}

func TestWeeklyBaseline(t *testing.T) {
	assert.InDelta(t, 560.0, metrics.WeeklyBaseline(2400), 0.001)
	assert.Equal(t, 0.0, metrics.WeeklyBaseline(0))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, metrics.Mean(nil))
	assert.InDelta(t, 2500.0, metrics.Mean([]float64{2000, 3000}), 0.001)
}
