package dnsperf

import (
	"regexp"
	"strconv"
)

// Results holds the scalar statistics dnsperf prints at the end of a run.
// A nil field means no line in the log reported it.
type Results struct {
	QueriesSent      *float64
	QueriesCompleted *float64
	QueriesLost      *float64
	RunTime          *float64
	QPS              *float64
	AvgLatency       *float64
	MinLatency       *float64
	MaxLatency       *float64
	StddevLatency    *float64
}

// resultField extracts one scalar from a matching line.
type resultField struct {
	name    string
	pattern *regexp.Regexp
	convert func(string) (float64, bool)
	field   func(*Results) **float64
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// resultFields is evaluated in order against every line; a later match
// overwrites an earlier one.
var resultFields = []resultField{
	{
		name:    "queries_sent",
		pattern: regexp.MustCompile(`^\s*Queries sent:\s*(\d+)`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.QueriesSent },
	},
	{
		name:    "queries_completed",
		pattern: regexp.MustCompile(`^\s*Queries completed:\s*(\d+).*`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.QueriesCompleted },
	},
	{
		name:    "queries_lost",
		pattern: regexp.MustCompile(`^\s*Queries lost:\s*(\d+).*`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.QueriesLost },
	},
	{
		name:    "run_time",
		pattern: regexp.MustCompile(`^\s*Run time \(s\):\s*([0-9.]+)`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.RunTime },
	},
	{
		name:    "qps",
		pattern: regexp.MustCompile(`^\s*Queries per second:\s*([0-9.]+)`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.QPS },
	},
	{
		name:    "avg_latency",
		pattern: regexp.MustCompile(`^\s*Average Latency \(s\):\s*([0-9.]+).*`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.AvgLatency },
	},
	{
		name:    "min_latency",
		pattern: regexp.MustCompile(`^\s*Average Latency \(s\):.*min ([0-9.]+).*`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.MinLatency },
	},
	{
		name:    "max_latency",
		pattern: regexp.MustCompile(`^\s*Average Latency \(s\):.*max ([0-9.]+).*`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.MaxLatency },
	},
	{
		name:    "stddev_latency",
		pattern: regexp.MustCompile(`^\s*Latency StdDev \(s\):\s*([0-9.]+)`),
		convert: parseFloat,
		field:   func(r *Results) **float64 { return &r.StddevLatency },
	},
}

// parseResults applies every result field to every line.
func parseResults(lines []string) Results {
	var results Results

	for _, line := range lines {
		for _, f := range resultFields {
			matches := f.pattern.FindStringSubmatch(line)
			if len(matches) < 2 {
				continue
			}

			v, ok := f.convert(matches[1])
			if !ok {
				continue
			}

			*f.field(&results) = &v
		}
	}

	return results
}

// Fields returns the reported statistics keyed by column name.
func (r *Results) Fields() map[string]float64 {
	out := make(map[string]float64, len(resultFields))

	for _, f := range resultFields {
		if v := *f.field(r); v != nil {
			out[f.name] = *v
		}
	}

	return out
}
