package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// MaxChunkSize is the largest accepted chunk size (128 MiB).
const MaxChunkSize = 128 * 1024 * 1024

// Chunked upload endpoints.
const (
	uploadStartEndpoint = "upload/start"
	uploadChunkEndpoint = "upload/chunk"
)

// Uploader is the subset of Client a ChunkUploadSession issues requests through.
type Uploader interface {
	GenericJSONRequest(
		ctx context.Context, endpoint string, requestType RequestType, parameters map[string]any, headers http.Header,
	) (*Response, error)
	GenericUpload(ctx context.Context, endpoint string, files []FormFile, parameters map[string]any) (*Response, error)
}

// ByteRange is the half-open range [Start, End) of one chunk.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// chunkRanges partitions [0, fileSize) into ceil(fileSize/chunkSize)
// consecutive ranges in increasing offset order.
func chunkRanges(fileSize, chunkSize int64) []ByteRange {
	count := fileSize / chunkSize
	if fileSize%chunkSize != 0 {
		count++
	}

	ranges := make([]ByteRange, 0, count)

	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, fileSize)
		ranges = append(ranges, ByteRange{Start: start, End: end})
	}

	return ranges
}

// ChunkUploadSession uploads one file in sequential chunks under a
// server-assigned upload ID. It is single use and not resumable: a failed Run
// must be repeated from the start with a new session.
type ChunkUploadSession struct {
	client    Uploader
	logger    *slog.Logger
	chunkSize int64
	filePath  string
	fileSize  int64
	mimeType  string
}

// NewChunkUploadSession validates chunkSize (1..MaxChunkSize), records the
// current size of filePath and, when mimeType is empty, detects it from the
// file content.
func NewChunkUploadSession(
	client Uploader, chunkSize int64, filePath, mimeType string, logger *slog.Logger,
) (*ChunkUploadSession, error) {
	if chunkSize <= 0 || chunkSize > MaxChunkSize {
		return nil, validationErrorf("invalid chunk size %d, must be in range 1-%d", chunkSize, MaxChunkSize)
	}

	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("network: stat %s: %w", filePath, err)
	}

	if info.IsDir() {
		return nil, validationErrorf("%q is a directory, not a file", filePath)
	}

	if mimeType == "" {
		mimeType, err = GuessMimeType(filePath)
		if err != nil {
			return nil, err
		}
	}

	return &ChunkUploadSession{
		client:    client,
		logger:    logger,
		chunkSize: chunkSize,
		filePath:  filePath,
		fileSize:  info.Size(),
		mimeType:  mimeType,
	}, nil
}

// FileSize returns the file size recorded at construction.
func (s *ChunkUploadSession) FileSize() int64 {
	return s.fileSize
}

// MimeType returns the MIME type sent with every chunk.
func (s *ChunkUploadSession) MimeType() string {
	return s.mimeType
}

// ChunkCount returns the number of chunks Run will upload.
func (s *ChunkUploadSession) ChunkCount() int {
	return len(chunkRanges(s.fileSize, s.chunkSize))
}

// Run starts an upload session, uploads every chunk in offset order and
// returns the upload ID. Each chunk request goes through the client's
// refresh/retry policy; the first chunk that still fails aborts the upload.
func (s *ChunkUploadSession) Run(ctx context.Context) (string, error) {
	s.logger.Debug("starting chunked upload",
		slog.String("path", s.filePath),
		slog.Int64("size", s.fileSize),
		slog.Int64("chunk_size", s.chunkSize),
	)

	f, err := os.Open(s.filePath)
	if err != nil {
		return "", fmt.Errorf("network: opening %s: %w", s.filePath, err)
	}
	defer f.Close()

	uploadID, err := s.start(ctx)
	if err != nil {
		return "", err
	}

	ranges := chunkRanges(s.fileSize, s.chunkSize)
	buf := make([]byte, min(s.chunkSize, s.fileSize))

	for _, r := range ranges {
		if err := s.uploadChunk(ctx, f, buf[:r.Len()], uploadID, r); err != nil {
			return "", err
		}
	}

	s.logger.Info("chunked upload complete",
		slog.String("path", s.filePath),
		slog.String("upload_id", uploadID),
		slog.Int("chunks", len(ranges)),
	)

	return uploadID, nil
}

func (s *ChunkUploadSession) start(ctx context.Context) (string, error) {
	parameters := map[string]any{
		"size": s.fileSize,
	}

	resp, err := s.client.GenericJSONRequest(ctx, uploadStartEndpoint, RequestPost, parameters, nil)
	if err != nil {
		return "", fmt.Errorf("network: starting chunked upload for %s: %w", s.filePath, err)
	}

	if resp.HasFailed() {
		return "", NewRequestError(resp, fmt.Sprintf("failed to start chunked upload for %q", s.filePath))
	}

	var body uploadStartResponse
	if err := resp.Decode(&body); err != nil {
		return "", err
	}

	if err := validateSchema(resp.Endpoint, body); err != nil {
		return "", err
	}

	return body.ID, nil
}

// uploadChunk reads r into buf and uploads it. The API expects an inclusive end.
func (s *ChunkUploadSession) uploadChunk(ctx context.Context, f io.ReaderAt, buf []byte, uploadID string, r ByteRange) error {
	n, err := f.ReadAt(buf, r.Start)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("network: reading %s at offset %d: %w", s.filePath, r.Start, err)
	}

	if int64(n) != r.Len() {
		return validationErrorf("%s changed during upload: read %d bytes at offset %d, want %d",
			s.filePath, n, r.Start, r.Len())
	}

	files := []FormFile{{
		Field:    "file",
		Filename: filepath.Base(s.filePath),
		Content:  buf,
		MimeType: s.mimeType,
	}}

	parameters := map[string]any{
		"id":    uploadID,
		"start": r.Start,
		"end":   r.End - 1,
	}

	resp, err := s.client.GenericUpload(ctx, uploadChunkEndpoint, files, parameters)
	if err != nil {
		return fmt.Errorf("network: uploading chunk %d-%d of %s: %w", r.Start, r.End, s.filePath, err)
	}

	if resp.HasFailed() {
		return NewRequestError(resp, fmt.Sprintf("failed to upload file chunk with byte range \"%d-%d\"", r.Start, r.End))
	}

	s.logger.Debug("uploaded chunk",
		slog.String("upload_id", uploadID),
		slog.Int64("start", r.Start),
		slog.Int64("end", r.End),
	)

	return nil
}
