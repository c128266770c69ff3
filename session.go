package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/coretexai/coretex-go/internal/config"
	"github.com/coretexai/coretex-go/internal/network"
	"github.com/coretexai/coretex-go/internal/tokenfile"
)

// expiryMargin refreshes access tokens shortly before they expire so a
// request is not sent with a token that lapses in flight.
const expiryMargin = 30 * time.Second

// Session binds API clients to the resolved server and its token file.
// Every credential change made by any of its clients is written back to the
// token file.
type Session struct {
	Client *network.Client

	cfg       *config.Resolved
	tokenPath string
	logger    *slog.Logger

	mu       sync.Mutex
	username string
	clients  []*network.Client
	saveErr  error
	// revoked is set when the server refused a refresh token with 401/403.
	revoked bool
}

// newSession loads the saved token for cfg's server, if any, and creates the
// primary client.
func newSession(cfg *config.Resolved, logger *slog.Logger) (*Session, error) {
	tf, err := tokenfile.Load(cfg.TokenPath())
	if err != nil {
		return nil, err
	}

	return openSession(cfg, logger, tf), nil
}

// openSession creates a session around an already loaded token file, which
// may be nil. A token file issued for a different server is ignored.
func openSession(cfg *config.Resolved, logger *slog.Logger, tf *tokenfile.File) *Session {
	s := &Session{
		cfg:       cfg,
		tokenPath: cfg.TokenPath(),
		logger:    logger,
		username:  cfg.Username,
	}

	var tok *oauth2.Token

	switch {
	case tf == nil:
		logger.Debug("no saved token", slog.String("path", s.tokenPath))
	case !tf.IssuedFor(cfg.ServerURL):
		logger.Warn("ignoring token issued for another server",
			slog.String("token_server", tf.ServerURL),
			slog.String("server", cfg.ServerURL),
		)
	default:
		tok = tf.Token

		if s.username == "" {
			s.username = tf.Username
		}
	}

	s.Client = s.newClient(tok)

	return s
}

func (s *Session) newClient(tok *oauth2.Token) *network.Client {
	hc := network.NewHTTPClient(s.cfg.ConnectTimeout, s.cfg.ReadTimeout)
	transport := network.NewTransport(network.BaseURL(s.cfg.ServerURL), hc, s.logger)

	c := network.NewClient(transport, s.logger, network.ClientOptions{
		UserAgent:       s.cfg.UserAgent,
		Token:           tok,
		OnTokenChange:   s.persist,
		OnRefreshFailed: s.refreshFailed,
	})

	s.mu.Lock()
	s.clients = append(s.clients, c)
	s.mu.Unlock()

	return c
}

// Fork returns a new client holding a copy of the primary client's
// credentials, for use by one concurrent worker.
func (s *Session) Fork() *network.Client {
	return s.newClient(s.Client.Token())
}

// persist writes tok to the token file. It runs as the clients' OnTokenChange
// hook and receives a copy it may modify.
func (s *Session) persist(tok *oauth2.Token) {
	tok.Expiry = tokenfile.ExpiryFromJWT(tok.AccessToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := tokenfile.Save(s.tokenPath, &tokenfile.File{
		Token:     tok,
		Username:  s.username,
		ServerURL: s.cfg.ServerURL,
	})
	if err != nil {
		s.logger.Warn("saving token", slog.String("path", s.tokenPath), slog.String("error", err.Error()))
		s.saveErr = err

		return
	}

	s.saveErr = nil
	s.revoked = false
	s.logger.Debug("token saved", slog.String("path", s.tokenPath))
}

// refreshFailed runs as the clients' OnRefreshFailed hook. Only a 401/403
// marks the saved refresh token as revoked; other failures keep it.
func (s *Session) refreshFailed(resp *network.Response) {
	if !resp.IsCredentialRejection() {
		s.logger.Warn("token refresh failed, keeping saved token", slog.Int("status", resp.StatusCode))
		return
	}

	s.mu.Lock()
	s.revoked = true
	s.mu.Unlock()
}

// Login authenticates with username and password and saves the tokens.
// A rejected login is returned as a *network.RequestError.
func (s *Session) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()

	resp, err := s.Client.Authenticate(ctx, username, password)
	if err != nil {
		return fmt.Errorf("logging in as %s: %w", username, err)
	}

	if resp.HasFailed() {
		return network.NewRequestError(resp, fmt.Sprintf("login as %s rejected", username))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveErr
}

// Refresh exchanges the refresh token for a new access token. A refresh the
// server rejects with 401/403 removes the token file; any other failure keeps
// it for a later attempt.
func (s *Session) Refresh(ctx context.Context) error {
	tok := s.Client.Token()
	if tok == nil {
		return fmt.Errorf("%w: run 'coretex login' first", network.ErrNotAuthenticated)
	}

	if tok.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token saved, run 'coretex login'", network.ErrNotAuthenticated)
	}

	resp, err := s.Client.RefreshToken(ctx)
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}

	if resp.HasFailed() {
		if !resp.IsCredentialRejection() {
			return network.NewRequestError(resp, "token refresh failed, saved token kept")
		}

		s.removeToken()

		return network.NewRequestError(resp, "token refresh rejected, run 'coretex login'")
	}

	return nil
}

// requireAuth ensures the primary client holds usable credentials. Without a
// saved token it logs in with the configured username and password when both
// are set. An access token that is about to expire is refreshed first.
func (s *Session) requireAuth(ctx context.Context) error {
	tok := s.Client.Token()

	if tok != nil && tok.AccessToken != "" && !expiresWithin(tok, expiryMargin) {
		return nil
	}

	if tok != nil && tok.RefreshToken != "" {
		s.logger.Debug("access token missing or expired, refreshing")
		return s.Refresh(ctx)
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		s.logger.Info("no usable saved token, logging in with configured credentials")
		return s.Login(ctx, s.cfg.Username, s.cfg.Password)
	}

	if tok != nil {
		return fmt.Errorf("%w: access token expired and no refresh token saved, run 'coretex login'",
			network.ErrNotAuthenticated)
	}

	return fmt.Errorf("%w: run 'coretex login' first", network.ErrNotAuthenticated)
}

// expiresWithin reports whether tok expires within d. Tokens without a known
// expiry never expire.
func expiresWithin(tok *oauth2.Token, d time.Duration) bool {
	if tok.Expiry.IsZero() {
		return false
	}

	return time.Now().Add(d).After(tok.Expiry)
}

// Close removes the token file after the server revoked the refresh token
// and no client still holds credentials. Once the session has forked, only
// the worker clients are considered: the primary client sends no requests
// after that and keeps the credentials it started with.
func (s *Session) Close() {
	s.mu.Lock()
	revoked := s.revoked
	clients := s.clients
	s.mu.Unlock()

	if !revoked {
		return
	}

	if len(clients) > 1 {
		clients = clients[1:]
	}

	for _, c := range clients {
		if c.Token() != nil {
			return
		}
	}

	s.removeToken()
}

func (s *Session) removeToken() {
	if err := tokenfile.Remove(s.tokenPath); err != nil {
		s.logger.Warn("removing rejected token", slog.String("error", err.Error()))
	}
}
