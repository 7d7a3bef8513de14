package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dnsperfoor/pkg/report"
	"github.com/ethpandaops/dnsperfoor/pkg/upload"
)

var (
	reportDB     string
	reportFormat string
	reportOutput string
	reportUpload bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the latency/QPS report from stored runs",
	Long: `Build one report row per configured combination of cache, kubedns CPU,
dnsmasq CPU, query type and target QPS that has a stored run, and render the
table to stdout or a file.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	addDBFlag(reportCmd, &reportDB)
	reportCmd.Flags().StringVar(&reportFormat, "format", "",
		"output format: table, markdown, json or yaml (default from config)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		"write the report to this file instead of stdout")
	reportCmd.Flags().BoolVar(&reportUpload, "upload", false,
		"publish the written report file to the configured S3 bucket")
}

func runReport(cmd *cobra.Command, _ []string) error {
	name := cfg.Report.Format
	if reportFormat != "" {
		name = reportFormat
	}

	format, err := report.ParseFormat(name)
	if err != nil {
		return err
	}

	if reportUpload && reportOutput == "" {
		return fmt.Errorf("--upload requires --output")
	}

	ctx := cmd.Context()

	st, err := openStore(ctx, reportDB)
	if err != nil {
		return err
	}
	defer stopStore(st)

	agg := report.NewAggregator(st, &cfg.Report)

	rows, err := agg.Build(ctx)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	log.WithField("rows", len(rows)).
		WithField("combinations", len(agg.Combinations())).
		Debug("Report built")

	var out io.Writer = os.Stdout

	if reportOutput != "" {
		f, err := os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer func() { _ = f.Close() }()

		out = f
	}

	if err := report.Render(out, rows, agg.Percentiles(), format); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}

	if reportOutput == "" {
		return nil
	}

	log.WithField("output", reportOutput).
		WithField("rows", len(rows)).
		Info("Report written")

	if !reportUpload {
		return nil
	}

	uploader, err := newUploader()
	if err != nil {
		return err
	}

	if _, err := uploader.UploadFile(ctx, reportOutput); err != nil {
		return fmt.Errorf("uploading report: %w", err)
	}

	return nil
}

func newUploader() (upload.Uploader, error) {
	if !cfg.Upload.S3.Enabled {
		return nil, fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Upload.S3)
	if err != nil {
		return nil, fmt.Errorf("creating S3 uploader: %w", err)
	}

	return uploader, nil
}
