// Package report aggregates stored runs into the latency/QPS table that is
// published alongside the benchmark scripts.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/dnsperfoor/pkg/config"
	"github.com/ethpandaops/dnsperfoor/pkg/dnsperf"
	"github.com/ethpandaops/dnsperfoor/pkg/store"
)

// Reader is the subset of store.Store the aggregator needs.
type Reader interface {
	FindRuns(ctx context.Context, filter store.Filter) ([]store.Run, error)
	ListHistogram(ctx context.Context, key dnsperf.Key) ([]store.HistogramBucket, error)
	FindHistogram(ctx context.Context, filter store.Filter) ([]store.HistogramBucket, error)
}

// Row is one line of the report.
type Row struct {
	Cached       string            `json:"cached" yaml:"cached"`
	KubednsCPU   string            `json:"kubedns_cpu" yaml:"kubedns_cpu"`
	DnsmasqCPU   string            `json:"dnsmasq_cpu" yaml:"dnsmasq_cpu"`
	QueryType    string            `json:"query_type" yaml:"query_type"`
	TargetQPS    string            `json:"target_qps" yaml:"target_qps"`
	RunID        string            `json:"run_id" yaml:"run_id"`
	AttainedQPS  int64             `json:"attained_qps" yaml:"attained_qps"`
	AvgLatencyMs *float64          `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	MaxLatencyMs *float64          `json:"max_latency_ms" yaml:"max_latency_ms"`
	Percentiles  []PercentileValue `json:"percentiles" yaml:"percentiles"`
}

// PercentileValue is a latency percentile in milliseconds.
type PercentileValue struct {
	Percentile float64 `json:"percentile" yaml:"percentile"`
	ValueMs    float64 `json:"value_ms" yaml:"value_ms"`
}

// Aggregator builds report rows from stored runs.
type Aggregator struct {
	reader      Reader
	dims        config.ReportDimensions
	percentiles []float64
	scope       string
}

// NewAggregator creates an Aggregator for the configured dimensions and
// percentiles.
func NewAggregator(reader Reader, cfg *config.ReportConfig) *Aggregator {
	percentiles := cfg.Percentiles
	if len(percentiles) == 0 {
		percentiles = config.DefaultPercentiles
	}

	scope := cfg.HistogramScope
	if scope == "" {
		scope = config.DefaultHistogramScope
	}

	return &Aggregator{
		reader:      reader,
		dims:        cfg.Dimensions,
		percentiles: percentiles,
		scope:       scope,
	}
}

// Percentiles returns the percentile points each row carries.
func (a *Aggregator) Percentiles() []float64 {
	return a.percentiles
}

// Combinations returns the cross-product of the configured dimensions in
// report order: cache, kubedns cpu, dnsmasq cpu, query type, target qps.
func (a *Aggregator) Combinations() []store.Filter {
	d := a.dims
	out := make([]store.Filter, 0,
		len(d.DnsmasqCache)*len(d.KubednsCPU)*len(d.DnsmasqCPU)*
			len(d.QueryType)*len(d.MaxQPS))

	for _, cache := range d.DnsmasqCache {
		for _, kc := range d.KubednsCPU {
			for _, dc := range d.DnsmasqCPU {
				for _, qt := range d.QueryType {
					for _, mq := range d.MaxQPS {
						out = append(out, store.Filter{
							DnsmasqCache: cache,
							KubednsCPU:   kc,
							DnsmasqCPU:   dc,
							QueryType:    qt,
							MaxQPS:       mq,
						})
					}
				}
			}
		}
	}

	return out
}

// Build produces one row per combination that has a stored run with a
// non-zero QPS. Combinations without data are left out.
func (a *Aggregator) Build(ctx context.Context) ([]Row, error) {
	var rows []Row

	for _, filter := range a.Combinations() {
		row, ok, err := a.buildRow(ctx, filter)
		if err != nil {
			return nil, err
		}

		if ok {
			rows = append(rows, row)
		}
	}

	return rows, nil
}

func (a *Aggregator) buildRow(
	ctx context.Context, filter store.Filter,
) (Row, bool, error) {
	runs, err := a.reader.FindRuns(ctx, filter)
	if err != nil {
		return Row{}, false, fmt.Errorf("finding runs: %w", err)
	}

	if len(runs) == 0 {
		return Row{}, false, nil
	}

	run := runs[0]
	if run.QPS == nil || *run.QPS == 0 {
		return Row{}, false, nil
	}

	row := Row{
		Cached:       CacheLabel(filter.DnsmasqCache),
		KubednsCPU:   CPULabel(filter.KubednsCPU),
		DnsmasqCPU:   CPULabel(filter.DnsmasqCPU),
		QueryType:    filter.QueryType,
		TargetQPS:    TargetQPSLabel(filter.MaxQPS),
		RunID:        run.RunID,
		AttainedQPS:  int64(*run.QPS),
		AvgLatencyMs: secondsToMs(run.AvgLatency),
		MaxLatencyMs: secondsToMs(run.MaxLatency),
	}

	buckets, err := a.histogram(ctx, filter, &run)
	if err != nil {
		return Row{}, false, err
	}

	values, err := BucketPercentiles(buckets, a.percentiles)
	if err != nil && !errors.Is(err, ErrEmptySample) {
		return Row{}, false, err
	}

	for i, v := range values {
		row.Percentiles = append(row.Percentiles, PercentileValue{
			Percentile: a.percentiles[i],
			ValueMs:    round1(v),
		})
	}

	return row, true, nil
}

// histogram returns the buckets a row's percentiles are computed from: every
// run matching the combination, or only the row's run under the run scope.
func (a *Aggregator) histogram(
	ctx context.Context, filter store.Filter, run *store.Run,
) ([]store.HistogramBucket, error) {
	if a.scope == config.HistogramScopeRun {
		buckets, err := a.reader.ListHistogram(ctx, run.Key())
		if err != nil {
			return nil, fmt.Errorf("listing histogram for run %q: %w", run.RunID, err)
		}

		return buckets, nil
	}

	buckets, err := a.reader.FindHistogram(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding histogram: %w", err)
	}

	return buckets, nil
}

func secondsToMs(v *float64) *float64 {
	if v == nil || *v == 0 {
		return nil
	}

	ms := round1(*v * 1000)

	return &ms
}
