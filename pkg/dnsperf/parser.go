// Package dnsperf parses the log written by a single dnsperf benchmark run.
//
// A log starts with a header naming the run, carries the benchmark settings
// as "### set <name>_opt...=<value>" lines, and ends with the dnsperf
// statistics block and a "#histogram <rtt_ms> <count>" latency histogram.
package dnsperf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	// headerPattern matches the first line of a run log.
	// Example: ### run_id 1469754418
	headerPattern = regexp.MustCompile(`^### (?:run_id |date: )(.*)`)

	// setLinePattern selects setting lines, settingPattern splits them.
	// Example: ### set max_qps_opt=-Q1000
	setLinePattern = regexp.MustCompile(`^### set .*`)
	settingPattern = regexp.MustCompile(`^### set (.*)_opt.*=(.*)`)

	// Example: #histogram 12 3041
	histogramLinePattern = regexp.MustCompile(`^#histogram .*`)
	histogramPattern     = regexp.MustCompile(`^#histogram\s+(\d+) (\d+)`)
)

// Parse extracts the run id, settings, results and histogram from the lines
// of a run log. Only a missing or malformed header is an error; any other
// line that does not match is ignored.
func Parse(lines []string) (*Run, error) {
	trimmed := make([]string, len(lines))
	for i, line := range lines {
		trimmed[i] = strings.TrimSpace(line)
	}

	runID, err := parseHeader(trimmed)
	if err != nil {
		return nil, err
	}

	return &Run{
		RunID:     runID,
		Settings:  parseSettings(trimmed),
		Results:   parseResults(trimmed),
		Histogram: parseHistogram(trimmed),
	}, nil
}

// ParseReader reads all lines from r and parses them. Lines may be of any
// length.
func ParseReader(r io.Reader) (*Run, error) {
	var lines []string

	// ReadString has no line length limit.
	br := bufio.NewReader(r)

	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading log: %w", err)
		}
	}

	return Parse(lines)
}

// ParseFile parses the run log at path.
func ParseFile(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	run, err := ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return run, nil
}

func parseHeader(lines []string) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: empty log", ErrMissingHeader)
	}

	matches := headerPattern.FindStringSubmatch(lines[0])
	if len(matches) < 2 {
		return "", fmt.Errorf("%w: first line is %q", ErrMissingHeader, lines[0])
	}

	return matches[1], nil
}

func parseSettings(lines []string) map[string]string {
	settings := make(map[string]string, 8)

	for _, line := range lines {
		if !setLinePattern.MatchString(line) {
			continue
		}

		matches := settingPattern.FindStringSubmatch(line)
		if len(matches) < 3 {
			continue
		}

		settings[matches[1]] = matches[2]
	}

	return settings
}

func parseHistogram(lines []string) []Bucket {
	var buckets []Bucket

	for _, line := range lines {
		if !histogramLinePattern.MatchString(line) {
			continue
		}

		matches := histogramPattern.FindStringSubmatch(line)
		if len(matches) < 3 {
			continue
		}

		rtt, err := strconv.ParseFloat(matches[1], 64)
		if err != nil {
			continue
		}

		count, err := strconv.ParseFloat(matches[2], 64)
		if err != nil {
			continue
		}

		buckets = append(buckets, Bucket{RTTMs: rtt, Count: count})
	}

	return buckets
}
