// Package metrics derives the program's efficiency numbers from report
// data. Everything here is pure; inputs are validated upstream.
package metrics

import "math"

type ReportMetrics struct {
	DollarPerHour float64 `json:"dollar_per_hour"`
	WinRate       float64 `json:"win_rate"`
}

// ComputeReportMetrics computes $/hour and win rate for one report.
// Hours are validated > 0 before a report is accepted. Win rate is
// unbounded above; over-performance reads > 100.
func ComputeReportMetrics(revenue, hours, target float64) ReportMetrics {
	m := ReportMetrics{DollarPerHour: revenue / hours}
	if target > 0 {
		m.WinRate = revenue / target * 100
	}
	return m
}

// ComputeRevenueDelta returns the window's revenue sum divided by the
// baseline. A zero baseline with any positive revenue yields +Inf; stage
// gates for such participants fall back to absolute thresholds.
func ComputeRevenueDelta(baseline float64, revenues []float64) float64 {
	var sum float64
	for _, r := range revenues {
		sum += r
	}
	if baseline == 0 {
		if sum > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return sum / baseline
}

// WeeklyBaseline converts the immutable 30-day intake baseline into a
// weekly figure for stage-gate comparisons.
func WeeklyBaseline(baseline30 float64) float64 {
	return baseline30 / 30 * 7
}

// Mean returns the arithmetic mean, 0 for an empty window.
func Mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
