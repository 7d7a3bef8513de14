package report

import (
	"math"
	"strconv"
	"strings"
)

const (
	unlimitedLabel = "unlimited"
	noTargetLabel  = "-"
	invalidLabel   = "invalid"
	missingLabel   = "-"
)

// CacheLabel renders the dnsmasq cache size as Y when caching is on.
func CacheLabel(cacheSize string) string {
	n, err := strconv.Atoi(strings.TrimSpace(cacheSize))
	if err == nil && n > 0 {
		return "Y"
	}

	return "N"
}

// CPULabel renders a CPU limit, "unlimited" when none was set.
func CPULabel(limit string) string {
	if limit == "" {
		return unlimitedLabel
	}

	return limit
}

// TargetQPSLabel renders the dnsperf -Q option as a bare number.
// Example: "-Q1000" -> "1000", "" -> "-".
func TargetQPSLabel(maxQPS string) string {
	if maxQPS == "" {
		return noTargetLabel
	}

	return strings.TrimLeft(maxQPS, "-Q")
}

// PercentileLabel renders a column heading such as "99.5%tile".
func PercentileLabel(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%tile"
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// formatDecimal prints a float the way the published tables always have:
// at least one decimal place, e.g. 12.0 or 3.4.
func formatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !math.IsInf(v, 0) && !math.IsNaN(v) {
		s += ".0"
	}

	return s
}
