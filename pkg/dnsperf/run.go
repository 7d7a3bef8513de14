package dnsperf

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMissingHeader is returned when the first line is not a run header.
	ErrMissingHeader = errors.New("missing run header")

	// ErrUnknownSetting is returned when a "### set" line names a setting
	// that has no column in the run key.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrMissingSetting is returned when a key dimension has no "### set" line.
	ErrMissingSetting = errors.New("missing setting")
)

// Setting names that make up the composite run key, besides the run id.
const (
	SettingDnsperfQueries = "dnsperf_queries"
	SettingKubednsCPU     = "kubedns_cpu"
	SettingDnsmasqCPU     = "dnsmasq_cpu"
	SettingDnsmasqCache   = "dnsmasq_cache"
	SettingMaxQPS         = "max_qps"
	SettingQueryType      = "query_type"
)

// Run is everything extracted from a single dnsperf log.
type Run struct {
	RunID     string
	Settings  map[string]string
	Results   Results
	Histogram []Bucket
}

// Bucket is one round-trip-time histogram entry.
type Bucket struct {
	RTTMs float64
	Count float64
}

// Key identifies a run by its benchmark configuration.
type Key struct {
	RunID          string
	DnsperfQueries string
	KubednsCPU     string
	DnsmasqCPU     string
	DnsmasqCache   string
	MaxQPS         string
	QueryType      string
}

// Key builds the composite key from the run id and settings. Every key
// dimension must be present and no other settings are accepted.
func (r *Run) Key() (Key, error) {
	key := Key{RunID: r.RunID}

	fields := map[string]*string{
		SettingDnsperfQueries: &key.DnsperfQueries,
		SettingKubednsCPU:     &key.KubednsCPU,
		SettingDnsmasqCPU:     &key.DnsmasqCPU,
		SettingDnsmasqCache:   &key.DnsmasqCache,
		SettingMaxQPS:         &key.MaxQPS,
		SettingQueryType:      &key.QueryType,
	}

	for _, name := range sortedKeys(r.Settings) {
		dst, ok := fields[name]
		if !ok {
			return Key{}, fmt.Errorf("%w: %q", ErrUnknownSetting, name)
		}

		*dst = r.Settings[name]
	}

	for _, name := range sortedKeys(fields) {
		if _, ok := r.Settings[name]; !ok {
			return Key{}, fmt.Errorf("%w: %q", ErrMissingSetting, name)
		}
	}

	return key, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
