package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/dnsperfoor/pkg/dnsperf"
	"github.com/ethpandaops/dnsperfoor/pkg/store"
)

var (
	ingestInputs []string
	ingestDB     string
	ingestUpdate bool
	ingestPolicy string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Parse dnsperf logs and store them",
	Long: `Parse one or more dnsperf benchmark logs and write each run and its
latency histogram to the database. Every file is stored atomically.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringSliceVar(&ingestInputs, "input", nil,
		"dnsperf log file to ingest (repeatable)")
	addDBFlag(ingestCmd, &ingestDB)
	ingestCmd.Flags().BoolVar(&ingestUpdate, "update", false,
		"skip runs that are already in the database (same as --duplicate-policy=skip)")
	ingestCmd.Flags().StringVar(&ingestPolicy, "duplicate-policy", "",
		"what to do with runs already stored: allow, skip or reject (default from config)")

	_ = ingestCmd.MarkFlagRequired("input")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	name := cfg.Ingest.DuplicatePolicy
	if ingestPolicy != "" {
		name = ingestPolicy
	}

	if ingestUpdate {
		name = string(store.DuplicateSkip)
	}

	policy, err := store.ParseDuplicatePolicy(name)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	st, err := openStore(ctx, ingestDB)
	if err != nil {
		return err
	}
	defer stopStore(st)

	for _, path := range ingestInputs {
		if err := ingestFile(ctx, st, path, policy); err != nil {
			return err
		}
	}

	return nil
}

func ingestFile(
	ctx context.Context,
	st store.Store,
	path string,
	policy store.DuplicatePolicy,
) error {
	fields := logrus.Fields{"input": path}

	if info, err := os.Stat(path); err == nil {
		fields["size"] = units.HumanSize(float64(info.Size()))
	}

	run, err := dnsperf.ParseFile(path)
	if err != nil {
		return err
	}

	log.WithFields(fields).
		WithField("run_id", run.RunID).
		WithFields(resultFields(run)).
		Debug("Parsed dnsperf log")

	result, err := st.IngestRun(ctx, run, path, policy)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	if result.Skipped {
		log.WithFields(fields).
			Infof("Skipping run %q as it is already in the database", run.RunID)

		return nil
	}

	entry := log.WithFields(fields).WithField("buckets", result.Buckets)
	if result.Existing > 0 {
		entry = entry.WithField("duplicates", result.Existing)
	}

	entry.Infof("Processed %q", run.RunID)

	return nil
}

func resultFields(run *dnsperf.Run) logrus.Fields {
	values := run.Results.Fields()

	fields := make(logrus.Fields, len(values))
	for k, v := range values {
		fields[k] = v
	}

	return fields
}
