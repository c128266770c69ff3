package network

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// tokenType labels stored credentials; the API sends the token in a custom
// header rather than as a bearer token.
const tokenType = "api-token"

// Authenticate installs Basic credentials on the transport and logs in.
// On success the access and refresh tokens from the response are stored.
// A rejected login is returned as the response, not as an error and not retried.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Response, error) {
	c.logger.Info("authenticating", slog.String("username", username))

	c.transport.SetAuth(username, password)

	resp, err := c.transport.Post(ctx, c.opts.LoginEndpoint, c.requestHeader(true), nil)
	if err != nil {
		return nil, err
	}

	if resp.HasFailed() {
		c.logger.Warn("authentication rejected",
			slog.String("username", username),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	tr, err := parseTokenResponse(resp, c.opts.AccessTokenKey, c.opts.RefreshTokenKey)
	if err != nil {
		return resp, err
	}

	c.storeToken(tr.AccessToken, tr.RefreshToken)
	c.logger.Info("authentication successful", slog.String("username", username))

	return resp, nil
}

// AuthenticateWithRefreshToken stores refreshToken and exchanges it for an
// access token.
func (c *Client) AuthenticateWithRefreshToken(ctx context.Context, refreshToken string) (*Response, error) {
	c.mu.Lock()
	c.token = &oauth2.Token{RefreshToken: refreshToken, TokenType: tokenType}
	c.mu.Unlock()

	return c.RefreshToken(ctx)
}

// RefreshToken sends the stored refresh token to the refresh endpoint and
// stores the new access token. The refresh token is replaced only when the
// server returns a new one. A rejected refresh clears the credentials.
func (c *Client) RefreshToken(ctx context.Context) (*Response, error) {
	h := c.requestHeader(true)
	if rt := c.refreshToken(); rt != "" {
		h.Set(c.opts.TokenHeader, rt)
	}

	resp, err := c.transport.Post(ctx, c.opts.RefreshEndpoint, h, nil)
	if err != nil {
		return nil, err
	}

	if resp.HasFailed() {
		c.logger.Warn("token refresh rejected, clearing credentials",
			slog.Int("status", resp.StatusCode),
		)
		c.clearToken()

		if c.opts.OnRefreshFailed != nil {
			c.opts.OnRefreshFailed(resp)
		}

		return resp, nil
	}

	tr, err := parseTokenResponse(resp, c.opts.AccessTokenKey, c.opts.RefreshTokenKey)
	if err != nil {
		return resp, err
	}

	c.storeToken(tr.AccessToken, tr.RefreshToken)
	c.logger.Debug("API token refresh was successful")

	return resp, nil
}

// HasCredentials reports whether an access token is held.
func (c *Client) HasCredentials() bool {
	return c.accessToken() != ""
}

// Token returns a copy of the held credentials, or nil when there are none.
func (c *Client) Token() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		return nil
	}

	tok := *c.token

	return &tok
}

// Reset drops the tokens and the transport's Basic credentials.
func (c *Client) Reset() {
	c.clearToken()
	c.transport.Reset()
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		return ""
	}

	return c.token.AccessToken
}

func (c *Client) refreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		return ""
	}

	return c.token.RefreshToken
}

// storeToken records a new access token and, when non-empty, a new refresh
// token, then notifies OnTokenChange.
func (c *Client) storeToken(access, refresh string) {
	c.mu.Lock()

	if c.token == nil {
		c.token = &oauth2.Token{TokenType: tokenType}
	}

	c.token.AccessToken = access
	c.token.Expiry = time.Time{}

	if refresh != "" {
		c.token.RefreshToken = refresh
	}

	snapshot := *c.token
	c.mu.Unlock()

	if c.opts.OnTokenChange != nil {
		c.opts.OnTokenChange(&snapshot)
	}
}

func (c *Client) clearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = nil
}
