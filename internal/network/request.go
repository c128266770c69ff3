package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RequestType is the HTTP method of a request.
type RequestType string

// Supported request types.
const (
	RequestGet    RequestType = http.MethodGet
	RequestPost   RequestType = http.MethodPost
	RequestPut    RequestType = http.MethodPut
	RequestPatch  RequestType = http.MethodPatch
	RequestDelete RequestType = http.MethodDelete
)

func (t RequestType) String() string {
	return string(t)
}

// FormFile is one file part of a multipart request.
type FormFile struct {
	Field    string
	Filename string
	Content  []byte
	MimeType string
}

// Request describes a single HTTP call relative to the transport base URL.
// It holds its body as bytes so every retry attempt can rebuild it.
type Request struct {
	Method   RequestType
	Endpoint string
	Header   http.Header
	Body     []byte
	Files    []FormFile
	Form     map[string]string
}

// build creates the *http.Request for one attempt.
func (r *Request) build(ctx context.Context, baseURL string) (*http.Request, error) {
	var (
		body        io.Reader = http.NoBody
		contentType string
	)

	switch {
	case len(r.Files) > 0:
		buf, ct, err := encodeMultipart(r.Form, r.Files)
		if err != nil {
			return nil, err
		}

		body = buf
		contentType = ct
	case len(r.Form) > 0:
		buf, ct, err := encodeMultipart(r.Form, nil)
		if err != nil {
			return nil, err
		}

		body = buf
		contentType = ct
	case r.Body != nil:
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, string(r.Method), baseURL+r.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("network: creating request: %w", err)
	}

	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// encodeMultipart writes form fields (sorted for stable output) followed by
// file parts. Each file part carries its own Content-Type.
func encodeMultipart(fields map[string]string, files []FormFile) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("network: writing form field %s: %w", k, err)
		}
	}

	for _, f := range files {
		part, err := w.CreatePart(filePartHeader(f))
		if err != nil {
			return nil, "", fmt.Errorf("network: creating file part %s: %w", f.Field, err)
		}

		if _, err := part.Write(f.Content); err != nil {
			return nil, "", fmt.Errorf("network: writing file part %s: %w", f.Field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("network: closing multipart writer: %w", err)
	}

	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func filePartHeader(f FormFile) textproto.MIMEHeader {
	// Servers compare names byte-wise, so macOS NFD names are normalized.
	name := norm.NFC.String(f.Filename)

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(f.Field), quoteEscaper.Replace(name)))
	h.Set("Content-Type", mimeType)

	return h
}

// formValues stringifies request parameters for multipart form fields.
func formValues(parameters map[string]any) map[string]string {
	if len(parameters) == 0 {
		return nil
	}

	out := make(map[string]string, len(parameters))
	for k, v := range parameters {
		out[k] = fmt.Sprint(v)
	}

	return out
}
