package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
)

// Transport retry and timeout constants.
const (
	maxTransportRetries        = 3
	defaultTransportRetryDelay = 500 * time.Millisecond
	DefaultConnectTimeout      = 20 * time.Second
	DefaultReadTimeout         = 30 * time.Second
)

// apiPath is appended to the configured server URL to form the base URL.
const apiPath = "api/v1/"

// BaseURL returns the API base URL for a server URL, e.g.
// "https://api.coretex.ai" -> "https://api.coretex.ai/api/v1/".
func BaseURL(serverURL string) string {
	return strings.TrimRight(serverURL, "/") + "/" + apiPath
}

// NewHTTPClient returns an http.Client that bounds connection establishment
// by connectTimeout and waiting for response headers by readTimeout.
func NewHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	dialer := &net.Dialer{Timeout: connectTimeout}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: readTimeout,
		},
	}
}

type basicAuth struct {
	username string
	password string
}

// Transport executes single request/response cycles against a fixed base URL.
// Failures below the HTTP layer (DNS, connection reset, timeout) are retried
// up to maxTransportRetries times; HTTP error statuses are valid Responses.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// retryDelay is the fixed wait between transport attempts.
	// Tests set it to zero.
	retryDelay time.Duration

	mu   sync.RWMutex
	auth *basicAuth
}

// NewTransport creates a Transport. baseURL is typically the result of BaseURL.
// A nil httpClient gets the default connect/read timeouts.
func NewTransport(baseURL string, httpClient *http.Client, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultConnectTimeout, DefaultReadTimeout)
	}

	return &Transport{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		retryDelay: defaultTransportRetryDelay,
	}
}

// BaseURL returns the base URL endpoints are appended to.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// SetAuth installs HTTP Basic credentials sent with every request until Reset.
func (t *Transport) SetAuth(username, password string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.auth = &basicAuth{username: username, password: password}
}

// IsAuthSet reports whether Basic credentials are installed.
func (t *Transport) IsAuthSet() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.auth != nil
}

// Reset clears the Basic credentials.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.auth = nil
}

// Get sends a GET request.
func (t *Transport) Get(ctx context.Context, endpoint string, header http.Header, body []byte) (*Response, error) {
	return t.Send(ctx, &Request{Method: RequestGet, Endpoint: endpoint, Header: header, Body: body})
}

// Post sends a POST request.
func (t *Transport) Post(ctx context.Context, endpoint string, header http.Header, body []byte) (*Response, error) {
	return t.Send(ctx, &Request{Method: RequestPost, Endpoint: endpoint, Header: header, Body: body})
}

// Send executes req, retrying transport failures. It returns a
// *RequestExhaustedError once 1+maxTransportRetries attempts have failed.
func (t *Transport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.logger.Debug("sending request",
		slog.String("method", req.Method.String()),
		slog.String("endpoint", req.Endpoint),
	)

	var (
		resp     *Response
		lastErr  error
		buildErr error
		attempts int
	)

	err := retry.Do(
		func() error {
			attempts++

			httpReq, err := req.build(ctx, t.baseURL)
			if err != nil {
				buildErr = err
				return retry.Unrecoverable(err)
			}

			r, err := t.doOnce(httpReq, req.Endpoint)
			if err != nil {
				lastErr = err
				return err
			}

			resp = r

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxTransportRetries+1),
		retry.Delay(t.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			// OnRetry also fires for the final attempt, which is not retried.
			if int(n) >= maxTransportRetries {
				return
			}

			t.logger.Debug("retrying request after transport error",
				slog.Int("retry", int(n)+1),
				slog.String("method", req.Method.String()),
				slog.String("endpoint", req.Endpoint),
				slog.String("exception", errorType(err)),
			)
		}),
	)
	if err == nil {
		return resp, nil
	}

	if buildErr != nil {
		return nil, buildErr
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("network: request canceled: %w", ctx.Err())
	}

	t.logger.Error("request failed after retries",
		slog.String("method", req.Method.String()),
		slog.String("endpoint", req.Endpoint),
		slog.Int("attempts", attempts),
	)

	return nil, &RequestExhaustedError{
		Method:   req.Method.String(),
		Endpoint: req.Endpoint,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// doOnce performs one HTTP round trip and reads the full body.
func (t *Transport) doOnce(req *http.Request, endpoint string) (*Response, error) {
	t.mu.RLock()
	auth := t.auth
	t.mu.RUnlock()

	if auth != nil {
		req.SetBasicAuth(auth.username, auth.password)
	}

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return newResponse(httpResp, body, endpoint), nil
}

// errorType names the underlying error type, looking through *url.Error.
func errorType(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return fmt.Sprintf("%T", urlErr.Err)
	}

	return fmt.Sprintf("%T", err)
}
