package dnsperf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `### run_id 1469754418
### set dnsperf_queries_opt=
### set kubedns_cpu_opt=200m
### set dnsmasq_cpu_opt=
### set dnsmasq_cache_opt=--cache-size=10000
### set max_qps_opt=-Q1000
### set query_type_opt=service
DNS Performance Testing Tool
Version 2.1.0.0

Statistics:

  Queries sent:         60000
  Queries completed:    59998 (100.00%)
  Queries lost:         2 (0.00%)

  Response codes:       NOERROR 59998 (100.00%)
  Average packet size:  request 44, response 111
  Run time (s):         60.002112
  Queries per second:   999.931135

  Average Latency (s):  0.000948 (min 0.000186, max 0.013766)
  Latency StdDev (s):   0.000560

#histogram 0 10
#histogram 1 59000
#histogram 2 800
#histogram 13 188
`

func ptr(v float64) *float64 {
	return &v
}

func TestParse_SampleLog(t *testing.T) {
	run, err := Parse(strings.Split(sampleLog, "\n"))
	require.NoError(t, err)

	assert.Equal(t, "1469754418", run.RunID)
	assert.Equal(t, map[string]string{
		"dnsperf_queries": "",
		"kubedns_cpu":     "200m",
		"dnsmasq_cpu":     "",
		"dnsmasq_cache":   "10000",
		"max_qps":         "-Q1000",
		"query_type":      "service",
	}, run.Settings)

	assert.Equal(t, Results{
		QueriesSent:      ptr(60000),
		QueriesCompleted: ptr(59998),
		QueriesLost:      ptr(2),
		RunTime:          ptr(60.002112),
		QPS:              ptr(999.931135),
		AvgLatency:       ptr(0.000948),
		MinLatency:       ptr(0.000186),
		MaxLatency:       ptr(0.013766),
		StddevLatency:    ptr(0.000560),
	}, run.Results)

	assert.Equal(t, []Bucket{
		{RTTMs: 0, Count: 10},
		{RTTMs: 1, Count: 59000},
		{RTTMs: 2, Count: 800},
		{RTTMs: 13, Count: 188},
	}, run.Histogram)
}

func TestParse_Idempotent(t *testing.T) {
	lines := strings.Split(sampleLog, "\n")

	first, err := Parse(lines)
	require.NoError(t, err)

	second, err := Parse(lines)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestParse_Header(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		wantID  string
		wantErr bool
	}{
		{
			name:   "run_id header",
			lines:  []string{"### run_id abc-123"},
			wantID: "abc-123",
		},
		{
			name:   "date header",
			lines:  []string{"### date: Thu Jul 28 17:46:58 PDT 2016"},
			wantID: "Thu Jul 28 17:46:58 PDT 2016",
		},
		{
			name:   "leading whitespace is trimmed",
			lines:  []string{"   ### run_id 7"},
			wantID: "7",
		},
		{
			name:    "empty input",
			lines:   nil,
			wantErr: true,
		},
		{
			name:    "header not on first line",
			lines:   []string{"DNS Performance Testing Tool", "### run_id 7"},
			wantErr: true,
		},
		{
			name:    "unknown header keyword",
			lines:   []string{"### id 7"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := Parse(tt.lines)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMissingHeader)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, run.RunID)
		})
	}
}

func TestParse_Settings(t *testing.T) {
	lines := []string{
		"### run_id 1",
		"### set max_qps_opt=-Q500",
		"### set max_qps_opt=-Q2000",
		"### set dnsmasq_cache_opt=--cache-size=0",
		"### set broken line without equals",
		"### setting kubedns_cpu_opt=1",
	}

	run, err := Parse(lines)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"max_qps":       "-Q2000",
		"dnsmasq_cache": "0",
	}, run.Settings)
}

func TestParse_Results(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		check func(t *testing.T, r Results)
	}{
		{
			name:  "qps exact value",
			lines: []string{"Queries per second: 1234.5"},
			check: func(t *testing.T, r Results) {
				require.NotNil(t, r.QPS)
				assert.Equal(t, 1234.5, *r.QPS)
			},
		},
		{
			name: "last match wins",
			lines: []string{
				"Queries per second: 10",
				"Queries per second: 20",
			},
			check: func(t *testing.T, r Results) {
				require.NotNil(t, r.QPS)
				assert.Equal(t, 20.0, *r.QPS)
			},
		},
		{
			name:  "absent fields stay nil",
			lines: []string{"Queries sent: 5"},
			check: func(t *testing.T, r Results) {
				require.NotNil(t, r.QueriesSent)
				assert.Equal(t, 5.0, *r.QueriesSent)
				assert.Nil(t, r.QPS)
				assert.Nil(t, r.AvgLatency)
				assert.Nil(t, r.StddevLatency)
			},
		},
		{
			name:  "unconvertible capture is skipped",
			lines: []string{"Queries per second: 1.2.3"},
			check: func(t *testing.T, r Results) {
				assert.Nil(t, r.QPS)
			},
		},
		{
			name:  "latency line feeds avg min and max",
			lines: []string{"Average Latency (s):  0.5 (min 0.1, max 0.9)"},
			check: func(t *testing.T, r Results) {
				require.NotNil(t, r.AvgLatency)
				require.NotNil(t, r.MinLatency)
				require.NotNil(t, r.MaxLatency)
				assert.Equal(t, 0.5, *r.AvgLatency)
				assert.Equal(t, 0.1, *r.MinLatency)
				assert.Equal(t, 0.9, *r.MaxLatency)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := Parse(append([]string{"### run_id x"}, tt.lines...))
			require.NoError(t, err)
			tt.check(t, run.Results)
		})
	}
}

func TestResults_Fields(t *testing.T) {
	r := Results{QPS: ptr(100), RunTime: ptr(60)}

	assert.Equal(t, map[string]float64{
		"qps":      100,
		"run_time": 60,
	}, r.Fields())
}

func TestParse_Histogram(t *testing.T) {
	lines := []string{
		"### run_id 1",
		"#histogram 5 2",
		"#histogram 1 7",
		"#histogram 5 3",
		"#histogram bogus",
		"# histogram 9 9",
	}

	run, err := Parse(lines)
	require.NoError(t, err)

	assert.Equal(t, []Bucket{
		{RTTMs: 5, Count: 2},
		{RTTMs: 1, Count: 7},
		{RTTMs: 5, Count: 3},
	}, run.Histogram)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))

	run, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1469754418", run.RunID)
	assert.Len(t, run.Histogram, 4)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.log"))
	require.Error(t, err)
}

func TestParseReader_LongLine(t *testing.T) {
	header, rest, _ := strings.Cut(sampleLog, "\n")
	input := header + "\n# " + strings.Repeat("x", 4<<20) + "\n" + rest

	run, err := ParseReader(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "1469754418", run.RunID)
	assert.Len(t, run.Histogram, 4)
	require.NotNil(t, run.Results.QPS)
	assert.Equal(t, 999.931135, *run.Results.QPS)
}

func TestParseReader_LineEndings(t *testing.T) {
	want, err := ParseReader(strings.NewReader(sampleLog))
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{name: "crlf", input: strings.ReplaceAll(sampleLog, "\n", "\r\n")},
		{name: "no trailing newline", input: strings.TrimRight(sampleLog, "\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReader(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRun_Key(t *testing.T) {
	full := map[string]string{
		"dnsperf_queries": "",
		"kubedns_cpu":     "200m",
		"dnsmasq_cpu":     "",
		"dnsmasq_cache":   "10000",
		"max_qps":         "-Q1000",
		"query_type":      "service",
	}

	t.Run("complete settings", func(t *testing.T) {
		run := &Run{RunID: "r1", Settings: full}

		key, err := run.Key()
		require.NoError(t, err)
		assert.Equal(t, Key{
			RunID:        "r1",
			KubednsCPU:   "200m",
			DnsmasqCache: "10000",
			MaxQPS:       "-Q1000",
			QueryType:    "service",
		}, key)
	})

	t.Run("unknown setting", func(t *testing.T) {
		settings := map[string]string{"cpu_governor": "performance"}
		for k, v := range full {
			settings[k] = v
		}

		_, err := (&Run{RunID: "r1", Settings: settings}).Key()
		require.ErrorIs(t, err, ErrUnknownSetting)
		assert.Contains(t, err.Error(), "cpu_governor")
	})

	t.Run("missing setting", func(t *testing.T) {
		settings := make(map[string]string, len(full))
		for k, v := range full {
			if k != "query_type" {
				settings[k] = v
			}
		}

		_, err := (&Run{RunID: "r1", Settings: settings}).Key()
		require.ErrorIs(t, err, ErrMissingSetting)
		assert.Contains(t, err.Error(), "query_type")
	})
}
