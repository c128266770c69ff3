package network

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// GuessMimeType detects the MIME type of the file at path from its content.
// Unrecognized content yields "application/octet-stream".
func GuessMimeType(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("network: guessing mime type of %s: %w", path, err)
	}

	return m.String(), nil
}
