package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a report output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatMarkdown, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want table, markdown, json or yaml)", s)
	}
}

// ContentType returns the HTTP content type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns the file extension used when the report is saved.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	case FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

var baseHeadings = []string{
	"cached", "kubedns_cpu", "dnsmasq_cpu", "query_type", "target QPS",
	"attained QPS", "avg latency (ms)", "max (ms)",
}

// Headings returns the table header for the given percentile points.
func Headings(percentiles []float64) []string {
	headings := make([]string, 0, len(baseHeadings)+len(percentiles))
	headings = append(headings, baseHeadings...)

	for _, p := range percentiles {
		headings = append(headings, PercentileLabel(p))
	}

	return headings
}

// Render writes rows to w in the given format.
func Render(w io.Writer, rows []Row, percentiles []float64, format Format) error {
	switch format {
	case FormatTable:
		_, err := io.WriteString(w, renderTable(rows, percentiles))

		return err
	case FormatMarkdown:
		_, err := io.WriteString(w, readmePreamble+renderTable(rows, percentiles))

		return err
	case FormatJSON:
		if rows == nil {
			rows = []Row{}
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encoding json report: %w", err)
		}

		return nil
	case FormatYAML:
		if rows == nil {
			rows = []Row{}
		}

		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encoding yaml report: %w", err)
		}

		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func renderTable(rows []Row, percentiles []float64) string {
	headings := Headings(percentiles)

	separator := make([]string, len(headings))
	for i := range separator {
		separator[i] = "----"
	}

	var sb strings.Builder

	sb.Grow(128 * (len(rows) + 2))

	sb.WriteString(strings.Join(headings, "|"))
	sb.WriteString("\n")
	sb.WriteString(strings.Join(separator, "|"))
	sb.WriteString("\n")

	for i := range rows {
		sb.WriteString(strings.Join(rowValues(&rows[i], len(percentiles)), "|"))
		sb.WriteString("\n")
	}

	return sb.String()
}

func rowValues(row *Row, numPercentiles int) []string {
	values := []string{
		row.Cached,
		row.KubednsCPU,
		row.DnsmasqCPU,
		row.QueryType,
		row.TargetQPS,
		strconv.FormatInt(row.AttainedQPS, 10),
		formatOptional(row.AvgLatencyMs),
		formatOptional(row.MaxLatencyMs),
	}

	for i := 0; i < numPercentiles; i++ {
		if i < len(row.Percentiles) {
			values = append(values, formatDecimal(row.Percentiles[i].ValueMs))
		} else {
			values = append(values, missingLabel)
		}
	}

	return values
}

func formatOptional(v *float64) string {
	if v == nil {
		return invalidLabel
	}

	return formatDecimal(*v)
}

const readmePreamble = `
# Overview

This directory contains the scripts used to benchmark the Kubernetes DNS
service (kube-dns with a dnsmasq cache in front of it) using dnsperf.

# Raw data

The results below were collected on a cluster of 2-vCPU nodes. Memory was
not a limiting factor for any of the runs.

## Reading the table

The table is meant to answer three questions:

* What is the highest QPS the cluster DNS service can sustain without
  resource limits?
* What performance should be expected when the DNS pods run with CPU limits?
* What latency should a workload expect when it does not saturate the
  service?

Target QPS is listed next to attained QPS for the last question: latency
grows with load, so a workload that stays below the maximum QPS of a DNS pod
sees lower latencies than a saturating benchmark.

## Fields

* cached - whether the dnsmasq cache was enabled
* kubedns_cpu - CPU limit for the kubedns container
* dnsmasq_cpu - CPU limit for the dnsmasq container
* query_type - kind of DNS query sent
* target QPS - QPS target given to dnsperf, ` + "`-`" + ` runs to saturation
* attained QPS - average QPS achieved during the run
* avg, max latency - average and maximum query latency (ms)
* 50, .. %tile - latency percentiles (ms)

`
