package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	uploadMethod    string
	uploadFile      string
	uploadPreflight bool
)

var uploadReportCmd = &cobra.Command{
	Use:   "upload-report",
	Short: "Upload a rendered report to remote storage",
	Long:  `Upload a rendered report file to S3-compatible storage using the config file settings.`,
	RunE:  runUploadReport,
}

func init() {
	rootCmd.AddCommand(uploadReportCmd)
	uploadReportCmd.Flags().StringVar(&uploadMethod, "method", "s3",
		"Upload method (currently only \"s3\")")
	uploadReportCmd.Flags().StringVar(&uploadFile, "file", "",
		"Path to the report file to upload")
	uploadReportCmd.Flags().BoolVar(&uploadPreflight, "preflight", false,
		"Write a test object first to check bucket access")

	_ = uploadReportCmd.MarkFlagRequired("file")
}

func runUploadReport(cmd *cobra.Command, _ []string) error {
	if uploadMethod != "s3" {
		return fmt.Errorf("unsupported method %q (only \"s3\" is supported)", uploadMethod)
	}

	uploader, err := newUploader()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if uploadPreflight {
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}

	log.WithField("file", uploadFile).Info("Uploading report")

	key, err := uploader.UploadFile(ctx, uploadFile)
	if err != nil {
		return fmt.Errorf("uploading report: %w", err)
	}

	log.WithField("key", key).Info("Upload completed successfully")

	return nil
}
