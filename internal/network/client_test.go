package network

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testAccessToken  = "access-1"
	testRefreshToken = "refresh-1"
)

// noopSleep skips backoff waits in tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client against srv with no retry delays and the
// given preloaded access/refresh tokens (empty means none).
func newTestClient(t *testing.T, srv *httptest.Server, access, refresh string) *Client {
	t.Helper()

	var tok *oauth2.Token
	if access != "" || refresh != "" {
		tok = &oauth2.Token{AccessToken: access, RefreshToken: refresh}
	}

	c := NewClient(newTestTransport(t, BaseURL(srv.URL), srv.Client()), slog.Default(), ClientOptions{Token: tok})
	c.sleepFunc = noopSleep

	return c
}

// refreshHandler answers the refresh endpoint with status and, on success,
// a new access token.
func refreshHandler(t *testing.T, calls *atomic.Int32, status int, newAccess string) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)

		w.WriteHeader(status)

		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": newAccess})
		}
	}
}

func TestShouldRetry_StopsAtMaxRetryCount(t *testing.T) {
	var refreshes atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/user/refresh", refreshHandler(t, &refreshes, http.StatusOK, "access-2"))

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	for _, retryCount := range []int{MaxRetryCount, MaxRetryCount + 1, 10} {
		for _, status := range []int{http.StatusUnauthorized, http.StatusInternalServerError, http.StatusServiceUnavailable} {
			resp := &Response{StatusCode: status}
			assert.False(t, c.ShouldRetry(context.Background(), retryCount, resp),
				"retryCount=%d status=%d", retryCount, status)
		}
	}

	assert.Equal(t, int32(0), refreshes.Load(), "no refresh once the retry budget is spent")
}

func TestShouldRetry_ServerErrors(t *testing.T) {
	c := NewClient(newTestTransport(t, "http://coretex.test/", nil), slog.Default(), ClientOptions{})

	for retryCount := 0; retryCount < MaxRetryCount; retryCount++ {
		assert.True(t, c.ShouldRetry(context.Background(), retryCount, &Response{StatusCode: http.StatusInternalServerError}))
		assert.True(t, c.ShouldRetry(context.Background(), retryCount, &Response{StatusCode: http.StatusServiceUnavailable}))
	}
}

func TestShouldRetry_FinalStatuses(t *testing.T) {
	c := NewClient(newTestTransport(t, "http://coretex.test/", nil), slog.Default(), ClientOptions{})

	for _, status := range []int{
		http.StatusOK, http.StatusCreated, http.StatusBadRequest, http.StatusForbidden,
		http.StatusNotFound, http.StatusConflict, http.StatusBadGateway, http.StatusGatewayTimeout,
	} {
		assert.False(t, c.ShouldRetry(context.Background(), 0, &Response{StatusCode: status}), "status=%d", status)
	}
}

func TestShouldRetry_UnauthorizedRefreshSucceeds(t *testing.T) {
	var refreshes atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/user/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		assert.Equal(t, testRefreshToken, r.Header.Get("api-token"), "refresh sends the refresh token")

		_, _ = w.Write([]byte(`{"token":"access-2"}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	assert.True(t, c.ShouldRetry(context.Background(), 0, &Response{StatusCode: http.StatusUnauthorized}))
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, "access-2", c.accessToken())
	assert.Equal(t, testRefreshToken, c.refreshToken())
}

func TestShouldRetry_UnauthorizedRefreshFails(t *testing.T) {
	var refreshes atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/user/refresh", refreshHandler(t, &refreshes, http.StatusUnauthorized, ""))

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	assert.False(t, c.ShouldRetry(context.Background(), 0, &Response{StatusCode: http.StatusUnauthorized}))
	assert.Equal(t, int32(1), refreshes.Load())
	assert.False(t, c.HasCredentials())
}

func TestShouldRetry_UnauthorizedRefreshTransportError(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(_ *http.Request) (*http.Response, error) {
		return nil, errConnReset
	})}

	c := NewClient(newTestTransport(t, "http://coretex.test/", hc), slog.Default(), ClientOptions{
		Token: &oauth2.Token{AccessToken: testAccessToken, RefreshToken: testRefreshToken},
	})

	assert.False(t, c.ShouldRetry(context.Background(), 0, &Response{StatusCode: http.StatusUnauthorized}))
	assert.True(t, c.HasCredentials(), "a transport failure during refresh keeps the credentials")
}

func TestGenericJSONRequest_SendsJSONAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/project", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, testAccessToken, r.Header.Get("api-token"))
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		assert.Contains(t, r.Header.Get("X-User-Agent"), "coretex-go;")
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "demo", body["name"])

		_, _ = w.Write([]byte(`{"id":42,"name":"demo"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	resp, err := c.GenericJSONRequest(context.Background(), "project", RequestPost,
		map[string]any{"name": "demo"}, http.Header{"X-Trace": {"trace-1"}})
	require.NoError(t, err)

	assert.True(t, resp.OK())
	assert.Equal(t, float64(42), resp.JSON()["id"])
	assert.Equal(t, "demo", resp.Get("name").String())
}

func TestGenericJSONRequest_HeaderOverridesDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.coretex+json", r.Header.Get("Content-Type"))
		assert.Len(t, r.Header.Values("Content-Type"), 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "", "")

	resp, err := c.GenericJSONRequest(context.Background(), "x", RequestPut, nil,
		http.Header{"Content-Type": {"application/vnd.coretex+json"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestGenericJSONRequest_NoTokenHeaderWhenUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Api-Token"]
		assert.False(t, present)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "", "")

	_, err := c.GenericJSONRequest(context.Background(), "x", RequestGet, nil, nil)
	require.NoError(t, err)
}

func TestGenericJSONRequest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	resp, err := c.GenericJSONRequest(context.Background(), "x", RequestGet, nil, nil)
	require.NoError(t, err)

	assert.True(t, resp.OK())
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenericJSONRequest_ServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	resp, err := c.GenericJSONRequest(context.Background(), "x", RequestGet, nil, nil)
	require.NoError(t, err, "a final HTTP failure is a response, not an error")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(MaxRetryCount+1), calls.Load())
}

func TestGenericJSONRequest_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	resp, err := c.GenericJSONRequest(context.Background(), "x", RequestGet, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenericJSONRequest_BackoffBetweenServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "", "")

	var waits []time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := c.GenericJSONRequest(context.Background(), "x", RequestGet, nil, nil)
	require.NoError(t, err)

	require.Len(t, waits, MaxRetryCount)

	for i, d := range waits {
		base := float64(baseBackoff) * float64(int(1)<<i)
		assert.InDelta(t, base, float64(d), base*jitterFraction, "wait %d", i)
	}
}

func TestGenericJSONRequest_CanceledDuringBackoff(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "", "")
	c.sleepFunc = func(_ context.Context, _ time.Duration) error {
		return context.Canceled
	}

	_, err := c.GenericJSONRequest(context.Background(), "x", RequestGet, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenericJSONRequest_TransportErrorNotRetriedByClient(t *testing.T) {
	var calls atomic.Int32

	hc := &http.Client{Transport: roundTripFunc(func(_ *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errConnReset
	})}

	c := NewClient(newTestTransport(t, "http://coretex.test/", hc), slog.Default(), ClientOptions{})
	c.sleepFunc = noopSleep

	_, err := c.GenericJSONRequest(context.Background(), "x", RequestGet, nil, nil)
	require.ErrorIs(t, err, ErrRequestExhausted)
	assert.Equal(t, int32(maxTransportRetries+1), calls.Load())
}

func TestGenericUpload_Multipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")
		assert.Equal(t, testAccessToken, r.Header.Get("api-token"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		assert.Equal(t, "17", r.FormValue("project_id"))
		assert.Equal(t, "true", r.FormValue("overwrite"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		assert.NoError(t, err)

		assert.Equal(t, "sample.csv", header.Filename)
		assert.Equal(t, "text/csv", header.Header.Get("Content-Type"))
		assert.Equal(t, "a,b\n1,2\n", string(content))

		_, _ = w.Write([]byte(`{"id":"artifact-1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	files := []FormFile{{Field: "file", Filename: "sample.csv", Content: []byte("a,b\n1,2\n"), MimeType: "text/csv"}}

	resp, err := c.GenericUpload(context.Background(), "dataset/upload", files,
		map[string]any{"project_id": 17, "overwrite": true})
	require.NoError(t, err)
	assert.Equal(t, "artifact-1", resp.Get("id").String())
}

func TestGenericUpload_RetryResendsFullBody(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		assert.NoError(t, err)
		assert.Equal(t, "payload", string(content), "attempt %d", n)

		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "", "")

	resp, err := c.GenericUpload(context.Background(), "x",
		[]FormFile{{Field: "file", Filename: "p.bin", Content: []byte("payload")}}, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenericDelete(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/model/12", r.URL.Path)
		assert.Equal(t, testAccessToken, r.Header.Get("api-token"))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testAccessToken, testRefreshToken)

	resp, err := c.GenericDelete(context.Background(), "model/12")
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(1), calls.Load())
}

func TestCalcBackoff_Bounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := calcBackoff(attempt)

		want := float64(baseBackoff) * float64(int(1)<<attempt)
		if want > float64(maxBackoff) {
			want = float64(maxBackoff)
		}

		assert.GreaterOrEqual(t, float64(d), want*(1-jitterFraction), "attempt %d", attempt)
		assert.LessOrEqual(t, float64(d), want*(1+jitterFraction), "attempt %d", attempt)
	}
}

func TestTimeSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := timeSleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
