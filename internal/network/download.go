package network

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Download file permissions.
const (
	downloadFilePerms = 0o644
	downloadDirPerms  = 0o755
)

// GenericDownload fetches endpoint and, when the response is successful,
// writes its body to destination. The file is written to a temporary path
// next to destination and renamed over it, so an interrupted download never
// destroys an existing file. A destination that is a directory is a
// validation error and nothing is written.
func (c *Client) GenericDownload(
	ctx context.Context, endpoint, destination string, parameters map[string]any,
) (*Response, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}

	body, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("network: encoding parameters for %s: %w", endpoint, err)
	}

	resp, err := c.execute(ctx, func() *Request {
		return &Request{Method: RequestGet, Endpoint: endpoint, Header: c.requestHeader(true), Body: body}
	})
	if err != nil {
		return nil, err
	}

	if resp.HasFailed() {
		return resp, nil
	}

	if info, statErr := os.Stat(destination); statErr == nil && info.IsDir() {
		return resp, validationErrorf("destination %q is a directory, not a file", destination)
	}

	if err := writeFileAtomic(destination, resp.Body); err != nil {
		return resp, err
	}

	c.logger.Debug("download complete",
		slog.String("endpoint", endpoint),
		slog.String("destination", destination),
		slog.Int("bytes", len(resp.Body)),
	)

	return resp, nil
}

// writeFileAtomic writes data to a temp file in path's directory, syncs it
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, downloadDirPerms); err != nil {
		return fmt.Errorf("network: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.partial")
	if err != nil {
		return fmt.Errorf("network: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("network: writing %s: %w", tmpPath, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("network: syncing %s: %w", tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("network: closing %s: %w", tmpPath, err)
	}

	if err := os.Chmod(tmpPath, downloadFilePerms); err != nil {
		return fmt.Errorf("network: setting permissions on %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("network: renaming %s to %s: %w", tmpPath, path, err)
	}

	success = true

	return nil
}
