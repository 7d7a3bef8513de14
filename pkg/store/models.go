package store

import (
	"fmt"
	"time"

	"github.com/ethpandaops/dnsperfoor/pkg/dnsperf"
)

// Run is one dnsperf execution. The seven key columns identify the
// benchmark configuration; ID is a surrogate so that duplicate keys can be
// stored when the ingest policy allows it.
type Run struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	RunID          string `gorm:"column:run_id;not null;index:idx_runs_key" json:"run_id"`
	DnsperfQueries string `gorm:"column:dnsperf_queries;index:idx_runs_key" json:"dnsperf_queries"`
	KubednsCPU     string `gorm:"column:kubedns_cpu;index:idx_runs_key" json:"kubedns_cpu"`
	DnsmasqCPU     string `gorm:"column:dnsmasq_cpu;index:idx_runs_key" json:"dnsmasq_cpu"`
	DnsmasqCache   string `gorm:"column:dnsmasq_cache;index:idx_runs_key" json:"dnsmasq_cache"`
	MaxQPS         string `gorm:"column:max_qps;index:idx_runs_key" json:"max_qps"`
	QueryType      string `gorm:"column:query_type;index:idx_runs_key" json:"query_type"`

	QueriesSent      *float64 `gorm:"column:queries_sent" json:"queries_sent,omitempty"`
	QueriesCompleted *float64 `gorm:"column:queries_completed" json:"queries_completed,omitempty"`
	QueriesLost      *float64 `gorm:"column:queries_lost" json:"queries_lost,omitempty"`
	RunTime          *float64 `gorm:"column:run_time" json:"run_time,omitempty"`
	QPS              *float64 `gorm:"column:qps" json:"qps,omitempty"`
	AvgLatency       *float64 `gorm:"column:avg_latency" json:"avg_latency,omitempty"`
	MinLatency       *float64 `gorm:"column:min_latency" json:"min_latency,omitempty"`
	MaxLatency       *float64 `gorm:"column:max_latency" json:"max_latency,omitempty"`
	StddevLatency    *float64 `gorm:"column:stddev_latency" json:"stddev_latency,omitempty"`

	Source     string    `json:"source,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// TableName overrides the gorm default.
func (Run) TableName() string {
	return "runs"
}

// Key returns the composite key of the run.
func (r *Run) Key() dnsperf.Key {
	return dnsperf.Key{
		RunID:          r.RunID,
		DnsperfQueries: r.DnsperfQueries,
		KubednsCPU:     r.KubednsCPU,
		DnsmasqCPU:     r.DnsmasqCPU,
		DnsmasqCache:   r.DnsmasqCache,
		MaxQPS:         r.MaxQPS,
		QueryType:      r.QueryType,
	}
}

// HistogramBucket is one latency bucket of a run. Rows repeat the run key
// and have no primary key of their own.
type HistogramBucket struct {
	RunID          string `gorm:"column:run_id;not null;index:idx_histograms_key" json:"run_id"`
	DnsperfQueries string `gorm:"column:dnsperf_queries;index:idx_histograms_key" json:"dnsperf_queries"`
	KubednsCPU     string `gorm:"column:kubedns_cpu;index:idx_histograms_key" json:"kubedns_cpu"`
	DnsmasqCPU     string `gorm:"column:dnsmasq_cpu;index:idx_histograms_key" json:"dnsmasq_cpu"`
	DnsmasqCache   string `gorm:"column:dnsmasq_cache;index:idx_histograms_key" json:"dnsmasq_cache"`
	MaxQPS         string `gorm:"column:max_qps;index:idx_histograms_key" json:"max_qps"`
	QueryType      string `gorm:"column:query_type;index:idx_histograms_key" json:"query_type"`

	RTTMs      float64 `gorm:"column:rtt_ms" json:"rtt_ms"`
	RTTMsCount float64 `gorm:"column:rtt_ms_count" json:"rtt_ms_count"`
}

// TableName overrides the gorm default.
func (HistogramBucket) TableName() string {
	return "histograms"
}

// NewRecords converts a parsed run into its run row and histogram rows.
// Settings that do not map onto the run key are rejected here rather than
// at insert time.
func NewRecords(
	run *dnsperf.Run,
	source string,
	now time.Time,
) (*Run, []HistogramBucket, error) {
	key, err := run.Key()
	if err != nil {
		return nil, nil, fmt.Errorf("building run key: %w", err)
	}

	res := run.Results

	record := &Run{
		RunID:            key.RunID,
		DnsperfQueries:   key.DnsperfQueries,
		KubednsCPU:       key.KubednsCPU,
		DnsmasqCPU:       key.DnsmasqCPU,
		DnsmasqCache:     key.DnsmasqCache,
		MaxQPS:           key.MaxQPS,
		QueryType:        key.QueryType,
		QueriesSent:      res.QueriesSent,
		QueriesCompleted: res.QueriesCompleted,
		QueriesLost:      res.QueriesLost,
		RunTime:          res.RunTime,
		QPS:              res.QPS,
		AvgLatency:       res.AvgLatency,
		MinLatency:       res.MinLatency,
		MaxLatency:       res.MaxLatency,
		StddevLatency:    res.StddevLatency,
		Source:           source,
		IngestedAt:       now,
	}

	buckets := make([]HistogramBucket, 0, len(run.Histogram))
	for _, b := range run.Histogram {
		buckets = append(buckets, HistogramBucket{
			RunID:          key.RunID,
			DnsperfQueries: key.DnsperfQueries,
			KubednsCPU:     key.KubednsCPU,
			DnsmasqCPU:     key.DnsmasqCPU,
			DnsmasqCache:   key.DnsmasqCache,
			MaxQPS:         key.MaxQPS,
			QueryType:      key.QueryType,
			RTTMs:          b.RTTMs,
			RTTMsCount:     b.Count,
		})
	}

	return record, buckets, nil
}

// Filter selects runs by the five dimensions the report iterates over.
// Unlike Key it does not include the run id or query count.
type Filter struct {
	DnsmasqCache string
	KubednsCPU   string
	DnsmasqCPU   string
	QueryType    string
	MaxQPS       string
}

func (f Filter) conditions() map[string]any {
	return map[string]any{
		"dnsmasq_cache": f.DnsmasqCache,
		"kubedns_cpu":   f.KubednsCPU,
		"dnsmasq_cpu":   f.DnsmasqCPU,
		"query_type":    f.QueryType,
		"max_qps":       f.MaxQPS,
	}
}

// keyConditions returns where-conditions for a full key. Map conditions are
// used because gorm skips zero-value struct fields, and empty strings are
// meaningful key values here.
func keyConditions(k dnsperf.Key) map[string]any {
	return map[string]any{
		"run_id":          k.RunID,
		"dnsperf_queries": k.DnsperfQueries,
		"kubedns_cpu":     k.KubednsCPU,
		"dnsmasq_cpu":     k.DnsmasqCPU,
		"dnsmasq_cache":   k.DnsmasqCache,
		"max_qps":         k.MaxQPS,
		"query_type":      k.QueryType,
	}
}
