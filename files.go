package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/coretexai/coretex-go/internal/config"
	"github.com/coretexai/coretex-go/internal/network"
)

// maxParallelUploads bounds --parallel, matching the parallel_uploads limit.
const maxParallelUploads = 16

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files in chunks and print their upload IDs",
		Long: `Upload one or more files through chunked upload sessions.

Each file is split into chunks of --chunk-size bytes (at most 128MiB) and the
chunks are sent in order. The printed upload ID references the uploaded file
in later API calls.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().String("chunk-size", "", "chunk size, e.g. 16MiB (default from config)")
	cmd.Flags().Int("parallel", 0, "number of files uploaded concurrently (default from config)")
	cmd.Flags().String("mime-type", "", "MIME type sent with every chunk (default: detected per file)")

	return cmd
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <endpoint> <destination>",
		Short: "Download an endpoint's response body to a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runDownload,
	}

	cmd.Flags().StringArrayP("param", "p", nil, "request parameter as key=value (repeatable)")

	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <endpoint>",
		Short: "Send a DELETE request to an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
}

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <method> <endpoint>",
		Short: "Send a JSON request and print the response",
		Long: `Send a request with a JSON body to an API endpoint, relative to the
server's /api/v1/ base, and print the response body.

Parameters from --data and --param are merged into one JSON object; --param
wins on conflicting keys. --field prints a single value selected by a gjson
path such as "data.0.id".`,
		Args: cobra.ExactArgs(2),
		RunE: runRequest,
	}

	cmd.Flags().StringP("data", "d", "", "JSON object sent as the request body")
	cmd.Flags().StringArrayP("param", "p", nil, "request parameter as key=value (repeatable)")
	cmd.Flags().StringArrayP("header", "H", nil, "extra header as 'Name: value' (repeatable)")
	cmd.Flags().String("field", "", "print only the value at this gjson path")

	return cmd
}

// authenticatedSession creates a session and ensures it holds credentials.
func authenticatedSession(ctx context.Context, logger *slog.Logger) (*Session, error) {
	sess, err := newSession(resolvedCfg, logger)
	if err != nil {
		return nil, err
	}

	if err := sess.requireAuth(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	return sess, nil
}

// uploadResult is one row of `upload` output.
type uploadResult struct {
	Path     string `json:"path"`
	UploadID string `json:"upload_id"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Chunks   int    `json:"chunks"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	logger := cmdLogger()

	opts, err := uploadOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	sess, err := authenticatedSession(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	results, err := uploadFiles(cmd.Context(), sess, args, opts, logger)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.UploadID, formatSize(r.Size), strconv.Itoa(r.Chunks), r.MimeType, r.Path})
	}

	printTable(cmd.OutOrStdout(), []string{"UPLOAD ID", "SIZE", "CHUNKS", "TYPE", "FILE"}, rows)

	return nil
}

type uploadOptions struct {
	chunkSize int64
	parallel  int
	mimeType  string
}

// uploadOptionsFromFlags starts from the resolved config and applies the
// flags the user set.
func uploadOptionsFromFlags(cmd *cobra.Command) (uploadOptions, error) {
	opts := uploadOptions{
		chunkSize: resolvedCfg.ChunkSize,
		parallel:  resolvedCfg.ParallelUploads,
	}

	if cmd.Flags().Changed("chunk-size") {
		raw, _ := cmd.Flags().GetString("chunk-size")

		size, err := config.ParseSize(raw)
		if err != nil {
			return opts, fmt.Errorf("--chunk-size: %w", err)
		}

		opts.chunkSize = size
	}

	if cmd.Flags().Changed("parallel") {
		opts.parallel, _ = cmd.Flags().GetInt("parallel")

		if opts.parallel < 1 || opts.parallel > maxParallelUploads {
			return opts, fmt.Errorf("--parallel must be between 1 and %d, got %d", maxParallelUploads, opts.parallel)
		}
	}

	opts.mimeType, _ = cmd.Flags().GetString("mime-type")

	return opts, nil
}

// uploadFiles runs one chunked upload session per path, at most
// opts.parallel at a time. Concurrent workers get their own client. The first
// failure cancels the remaining uploads.
func uploadFiles(
	ctx context.Context, sess *Session, paths []string, opts uploadOptions, logger *slog.Logger,
) ([]uploadResult, error) {
	results := make([]uploadResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallel)

	for i, path := range paths {
		g.Go(func() error {
			client := sess.Client
			if opts.parallel > 1 {
				client = sess.Fork()
			}

			up, err := network.NewChunkUploadSession(client, opts.chunkSize, path, opts.mimeType, logger)
			if err != nil {
				return err
			}

			statusf("Uploading %s (%s, %d chunks)...\n", path, formatSize(up.FileSize()), up.ChunkCount())

			id, err := up.Run(gctx)
			if err != nil {
				return err
			}

			results[i] = uploadResult{
				Path:     path,
				UploadID: id,
				Size:     up.FileSize(),
				MimeType: up.MimeType(),
				Chunks:   up.ChunkCount(),
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(context.Cause(ctx), errInterrupted) {
			return nil, fmt.Errorf("%w: %d of %d files uploaded", errInterrupted, countUploaded(results), len(paths))
		}

		return nil, err
	}

	return results, nil
}

func countUploaded(results []uploadResult) int {
	n := 0

	for _, r := range results {
		if r.UploadID != "" {
			n++
		}
	}

	return n
}

func runDownload(cmd *cobra.Command, args []string) error {
	endpoint, dest := args[0], args[1]

	rawParams, _ := cmd.Flags().GetStringArray("param")

	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	sess, err := authenticatedSession(cmd.Context(), cmdLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	resp, err := sess.Client.GenericDownload(cmd.Context(), endpoint, dest, params)
	if err != nil {
		return err
	}

	if resp.HasFailed() {
		return network.NewRequestError(resp, "download failed")
	}

	statusf("Downloaded %s to %s.\n", formatSize(int64(len(resp.Body))), dest)

	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	sess, err := authenticatedSession(cmd.Context(), cmdLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	resp, err := sess.Client.GenericDelete(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if resp.HasFailed() {
		return network.NewRequestError(resp, "delete failed")
	}

	statusf("Deleted %s.\n", args[0])

	return nil
}

func runRequest(cmd *cobra.Command, args []string) error {
	method, err := parseMethod(args[0])
	if err != nil {
		return err
	}

	endpoint := args[1]

	data, _ := cmd.Flags().GetString("data")
	rawParams, _ := cmd.Flags().GetStringArray("param")
	rawHeaders, _ := cmd.Flags().GetStringArray("header")
	field, _ := cmd.Flags().GetString("field")

	params, err := requestParameters(data, rawParams)
	if err != nil {
		return err
	}

	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		return err
	}

	sess, err := authenticatedSession(cmd.Context(), cmdLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	resp, err := sess.Client.GenericJSONRequest(cmd.Context(), endpoint, method, params, headers)
	if err != nil {
		return err
	}

	if resp.HasFailed() {
		return network.NewRequestError(resp, fmt.Sprintf("%s %s failed", method, endpoint))
	}

	w := cmd.OutOrStdout()

	if field != "" {
		v := resp.Get(field)
		if !v.Exists() {
			return fmt.Errorf("field %q not found in response", field)
		}

		fmt.Fprintln(w, v.String())

		return nil
	}

	if len(resp.Body) > 0 {
		fmt.Fprintln(w, strings.TrimRight(resp.Text(), "\n"))
	}

	return nil
}

func parseMethod(s string) (network.RequestType, error) {
	m := network.RequestType(strings.ToUpper(s))

	switch m {
	case network.RequestGet, network.RequestPost, network.RequestPut, network.RequestPatch, network.RequestDelete:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported method %q", s)
	}
}

// requestParameters merges a JSON object from --data with key=value params.
func requestParameters(data string, rawParams []string) (map[string]any, error) {
	params := map[string]any{}

	if data != "" {
		if !gjson.Valid(data) || !gjson.Parse(data).IsObject() {
			return nil, errors.New("--data must be a JSON object")
		}

		if err := json.Unmarshal([]byte(data), &params); err != nil {
			return nil, fmt.Errorf("--data: %w", err)
		}
	}

	kv, err := parseParams(rawParams)
	if err != nil {
		return nil, err
	}

	for k, v := range kv {
		params[k] = v
	}

	return params, nil
}

// parseParams converts key=value pairs into request parameters. Values stay
// strings.
func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))

	for _, p := range raw {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", p)
		}

		params[k] = v
	}

	return params, nil
}

func parseHeaders(raw []string) (http.Header, error) {
	if len(raw) == 0 {
		return nil, nil //nolint:nilnil // no extra headers
	}

	h := make(http.Header, len(raw))

	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)

		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: want 'Name: value'", line)
		}

		h.Add(name, strings.TrimSpace(value))
	}

	return h, nil
}
