package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/coretexai/coretex-go/internal/config"
	"github.com/coretexai/coretex-go/internal/tokenfile"
)

const (
	testUsername     = "dummy@coretex.ai"
	testPassword     = "123456"
	testRefreshToken = "refresh-1"
)

// fakeAPI is an in-memory Coretex API covering authentication, chunked
// uploads and a small "model" resource.
type fakeAPI struct {
	mu sync.Mutex

	accessToken  string // the only access token accepted
	refreshToken string
	issued       int

	// accessOnly makes login omit the refresh token.
	accessOnly bool
	// refreshStatus, when set, is returned by the refresh endpoint.
	refreshStatus int

	logins    int
	refreshes int

	uploads    map[string][]byte
	deleted    []string
	lastBody   map[string]any
	lastHeader http.Header
	download   []byte
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()

	api := &fakeAPI{
		refreshToken: testRefreshToken,
		uploads:      make(map[string][]byte),
		download:     []byte("model weights"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/user/login", api.login)
	mux.HandleFunc("POST /api/v1/user/refresh", api.refresh)
	mux.HandleFunc("POST /api/v1/upload/start", api.authorized(api.uploadStart))
	mux.HandleFunc("POST /api/v1/upload/chunk", api.authorized(api.uploadChunk))
	mux.HandleFunc("/api/v1/model", api.authorized(api.model))
	mux.HandleFunc("GET /api/v1/model/download", api.authorized(api.modelDownload))
	mux.HandleFunc("DELETE /api/v1/model/{id}", api.authorized(api.modelDelete))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return api, srv
}

// issueLocked hands out a fresh access token. Caller holds a.mu.
func (a *fakeAPI) issueLocked() string {
	a.issued++
	a.accessToken = fmt.Sprintf("access-%d", a.issued)

	return a.accessToken
}

func (a *fakeAPI) login(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logins++

	user, pass, ok := r.BasicAuth()
	if !ok || user != testUsername || pass != testPassword {
		http.Error(w, `{"message":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	if a.accessOnly {
		writeJSON(w, map[string]any{"token": a.issueLocked()})
		return
	}

	writeJSON(w, map[string]any{"token": a.issueLocked(), "refresh_token": a.refreshToken})
}

func (a *fakeAPI) refresh(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.refreshes++

	if a.refreshStatus != 0 {
		http.Error(w, `{"message":"refresh unavailable"}`, a.refreshStatus)
		return
	}

	if r.Header.Get("api-token") != a.refreshToken {
		http.Error(w, `{"message":"invalid refresh token"}`, http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]any{"token": a.issueLocked()})
}

func (a *fakeAPI) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		ok := a.accessToken != "" && r.Header.Get("api-token") == a.accessToken
		a.mu.Unlock()

		if !ok {
			http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func (a *fakeAPI) uploadStart(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := fmt.Sprintf("upload-%d", len(a.uploads)+1)
	a.uploads[id] = []byte{}

	writeJSON(w, map[string]any{"id": id})
}

func (a *fakeAPI) uploadChunk(w http.ResponseWriter, r *http.Request) {
	f, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start, _ := strconv.Atoi(r.FormValue("start"))
	end, _ := strconv.Atoi(r.FormValue("end"))

	a.mu.Lock()
	defer a.mu.Unlock()

	id := r.FormValue("id")

	got, ok := a.uploads[id]
	if !ok || start != len(got) || end != start+len(data)-1 {
		http.Error(w, "unexpected chunk", http.StatusBadRequest)
		return
	}

	a.uploads[id] = append(got, data...)
	writeJSON(w, map[string]any{})
}

func (a *fakeAPI) model(w http.ResponseWriter, r *http.Request) {
	a.record(r)
	writeJSON(w, map[string]any{"data": []any{map[string]any{"id": 7, "name": "resnet"}}})
}

func (a *fakeAPI) modelDownload(w http.ResponseWriter, r *http.Request) {
	a.record(r)

	a.mu.Lock()
	defer a.mu.Unlock()

	_, _ = w.Write(a.download)
}

func (a *fakeAPI) modelDelete(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.deleted = append(a.deleted, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *fakeAPI) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var parsed map[string]any
	_ = json.Unmarshal(body, &parsed)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastBody = parsed
	a.lastHeader = r.Header.Clone()
}

func (a *fakeAPI) setAccessToken(tok string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.accessToken = tok
}

func (a *fakeAPI) setRefreshToken(tok string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.refreshToken = tok
}

func (a *fakeAPI) setAccessOnly(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.accessOnly = v
}

func (a *fakeAPI) setRefreshStatus(code int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.refreshStatus = code
}

func (a *fakeAPI) loginCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.logins
}

func (a *fakeAPI) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.refreshes
}

func (a *fakeAPI) uploaded(id string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.uploads[id]
}

func (a *fakeAPI) deletedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.deleted...)
}

func (a *fakeAPI) lastRequest() (map[string]any, http.Header) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.lastBody, a.lastHeader
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// resetGlobals restores the CLI's package-level state after a test.
func resetGlobals(t *testing.T) {
	t.Helper()

	oldConfig, oldServer, oldUser := flagConfigPath, flagServerURL, flagUsername
	oldJSON, oldVerbose, oldQuiet := flagJSON, flagVerbose, flagQuiet
	oldCfg, oldLogger, oldDefault := resolvedCfg, cliLogger, slog.Default()

	t.Cleanup(func() {
		flagConfigPath, flagServerURL, flagUsername = oldConfig, oldServer, oldUser
		flagJSON, flagVerbose, flagQuiet = oldJSON, oldVerbose, oldQuiet
		resolvedCfg, cliLogger = oldCfg, oldLogger
		slog.SetDefault(oldDefault)
	})
}

// setupCLIEnv points the CLI at serverURL with an isolated config file and
// storage directory, and returns the token file path.
func setupCLIEnv(t *testing.T, serverURL string) string {
	t.Helper()
	resetGlobals(t)

	dir := t.TempDir()
	storage := filepath.Join(dir, "data")

	t.Setenv(config.EnvConfig, filepath.Join(dir, "config.toml"))
	t.Setenv(config.EnvServerURL, serverURL)
	t.Setenv(config.EnvStoragePath, storage)
	t.Setenv(config.EnvUsername, "")
	t.Setenv(config.EnvPassword, "")

	return filepath.Join(storage, "token.json")
}

// runCLI executes the root command with args and returns what it wrote to
// stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--quiet"}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

// saveTestToken writes a token file for serverURL.
func saveTestToken(t *testing.T, path, serverURL string, tok *oauth2.Token) {
	t.Helper()

	require.NoError(t, tokenfile.Save(path, &tokenfile.File{
		Token:     tok,
		Username:  testUsername,
		ServerURL: serverURL,
	}))
}

// loggedIn seeds a token the fake API accepts.
func loggedIn(t *testing.T, api *fakeAPI, tokenPath, serverURL string) {
	t.Helper()

	api.setAccessToken("access-0")
	saveTestToken(t, tokenPath, serverURL, &oauth2.Token{
		AccessToken:  "access-0",
		RefreshToken: testRefreshToken,
		TokenType:    "api-token",
	})
}
