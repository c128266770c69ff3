package network

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"runtime"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Client retry and backoff constants.
const (
	MaxRetryCount  = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Version is reported in the X-User-Agent header. Set at build time.
var Version = "dev"

// Default wire names. Override through ClientOptions for other deployments.
const (
	DefaultLoginEndpoint   = "user/login"
	DefaultRefreshEndpoint = "user/refresh"
	DefaultTokenHeader     = "api-token"
	DefaultAccessTokenKey  = "token"
	DefaultRefreshTokenKey = "refresh_token"
)

// ClientOptions configures a Client. Zero fields take the defaults above.
type ClientOptions struct {
	LoginEndpoint   string
	RefreshEndpoint string
	TokenHeader     string
	AccessTokenKey  string
	RefreshTokenKey string
	UserAgent       string

	// Token preloads credentials, e.g. loaded from a token file.
	Token *oauth2.Token

	// OnTokenChange is called after authenticate or refresh stores new
	// credentials. It receives a copy and runs outside the client lock.
	OnTokenChange func(*oauth2.Token)

	// OnRefreshFailed is called with the response of a refresh the server
	// did not accept. The credentials are already cleared when it runs.
	OnRefreshFailed func(*Response)
}

func (o *ClientOptions) applyDefaults() {
	if o.LoginEndpoint == "" {
		o.LoginEndpoint = DefaultLoginEndpoint
	}

	if o.RefreshEndpoint == "" {
		o.RefreshEndpoint = DefaultRefreshEndpoint
	}

	if o.TokenHeader == "" {
		o.TokenHeader = DefaultTokenHeader
	}

	if o.AccessTokenKey == "" {
		o.AccessTokenKey = DefaultAccessTokenKey
	}

	if o.RefreshTokenKey == "" {
		o.RefreshTokenKey = DefaultRefreshTokenKey
	}

	if o.UserAgent == "" {
		o.UserAgent = fmt.Sprintf("coretex-go;%s;go;%s", Version, runtime.Version())
	}
}

// Client is the authenticated API client. It injects the access token into
// every request, refreshes it on 401, and retries 500/503 responses.
//
// A Client holds one set of credentials. Concurrent calls are safe, but
// concurrent Authenticate/RefreshToken calls race for the final credentials;
// use one Client per logical session.
type Client struct {
	transport *Transport
	logger    *slog.Logger
	opts      ClientOptions

	mu    sync.Mutex
	token *oauth2.Token

	// sleepFunc waits between 5xx retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client that owns transport.
func NewClient(transport *Transport, logger *slog.Logger, opts ClientOptions) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	opts.applyDefaults()

	c := &Client{
		transport: transport,
		logger:    logger,
		opts:      opts,
		sleepFunc: timeSleep,
	}

	if opts.Token != nil {
		tok := *opts.Token
		c.token = &tok
	}

	return c
}

// Transport returns the underlying transport.
func (c *Client) Transport() *Transport {
	return c.transport
}

// requestHeader builds the default header set. The access token is read at
// call time so a retry after refresh carries the new token.
func (c *Client) requestHeader(jsonBody bool) http.Header {
	h := make(http.Header)

	if jsonBody {
		h.Set("Content-Type", "application/json")
	}

	h.Set("Accept", "*/*")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-User-Agent", c.opts.UserAgent)

	if tok := c.accessToken(); tok != "" {
		h.Set(c.opts.TokenHeader, tok)
	}

	return h
}

// GenericJSONRequest sends parameters as a JSON body. Extra headers are
// merged over the defaults.
func (c *Client) GenericJSONRequest(
	ctx context.Context, endpoint string, requestType RequestType, parameters map[string]any, headers http.Header,
) (*Response, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}

	body, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("network: encoding parameters for %s: %w", endpoint, err)
	}

	return c.execute(ctx, func() *Request {
		h := c.requestHeader(true)
		mergeHeader(h, headers)

		return &Request{Method: requestType, Endpoint: endpoint, Header: h, Body: body}
	})
}

// GenericUpload sends files and parameters as multipart/form-data.
func (c *Client) GenericUpload(
	ctx context.Context, endpoint string, files []FormFile, parameters map[string]any,
) (*Response, error) {
	form := formValues(parameters)

	return c.execute(ctx, func() *Request {
		return &Request{
			Method:   RequestPost,
			Endpoint: endpoint,
			Header:   c.requestHeader(false),
			Files:    files,
			Form:     form,
		}
	})
}

// GenericDelete sends a DELETE request.
func (c *Client) GenericDelete(ctx context.Context, endpoint string) (*Response, error) {
	return c.execute(ctx, func() *Request {
		return &Request{Method: RequestDelete, Endpoint: endpoint, Header: c.requestHeader(true)}
	})
}

// execute sends the request built by build until ShouldRetry says stop.
// build is called per attempt. Transport errors end the loop immediately:
// the transport already retried them.
func (c *Client) execute(ctx context.Context, build func() *Request) (*Response, error) {
	for retryCount := 0; ; retryCount++ {
		req := build()

		resp, err := c.transport.Send(ctx, req)
		if err != nil {
			return nil, err
		}

		if !c.ShouldRetry(ctx, retryCount, resp) {
			if retryCount > 0 && resp.HasFailed() {
				c.logger.Error("request failed after retries",
					slog.String("method", req.Method.String()),
					slog.String("endpoint", req.Endpoint),
					slog.Int("status", resp.StatusCode),
					slog.Int("attempts", retryCount+1),
				)
			}

			return resp, nil
		}

		c.logger.Warn("retrying request",
			slog.String("method", req.Method.String()),
			slog.String("endpoint", req.Endpoint),
			slog.Int("status", resp.StatusCode),
			slog.Int("retry_count", retryCount),
		)

		// A refreshed token is usable at once; server errors get backoff.
		if resp.IsUnauthorized() {
			continue
		}

		if err := c.sleepFunc(ctx, calcBackoff(retryCount)); err != nil {
			return nil, fmt.Errorf("network: request canceled: %w", err)
		}
	}
}

// ShouldRetry reports whether a request that produced resp on attempt
// retryCount should be sent again. A 401 triggers exactly one token refresh
// and is retried only if that refresh succeeded; 500 and 503 are retried;
// everything else is final. Nothing is retried once retryCount reaches
// MaxRetryCount.
func (c *Client) ShouldRetry(ctx context.Context, retryCount int, resp *Response) bool {
	if retryCount >= MaxRetryCount {
		return false
	}

	if resp.IsUnauthorized() {
		refreshResp, err := c.RefreshToken(ctx)
		if err != nil {
			c.logger.Warn("token refresh failed",
				slog.String("error", err.Error()),
			)

			return false
		}

		return !refreshResp.HasFailed()
	}

	return isRetryableStatus(resp.StatusCode)
}

func mergeHeader(dst, src http.Header) {
	for key, values := range src {
		dst.Del(key)

		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
