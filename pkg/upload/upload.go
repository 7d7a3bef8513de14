// Package upload publishes rendered reports to remote storage.
package upload

import "context"

// Uploader publishes report files to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadFile uploads a single file under the configured prefix and
	// returns the object key it was written to.
	UploadFile(ctx context.Context, localPath string) (string, error)
}
