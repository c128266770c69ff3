package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coretexai/coretex-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with username and password",
		Long: `Log in to the Coretex API and save the access and refresh tokens.

The username comes from --username, the config file or CTX_USERNAME.
The password is read from CTX_PASSWORD, or from the first line of standard
input with --password-stdin.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().Bool("password-stdin", false, "read the password from standard input")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved authentication token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the saved refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE:  runRefresh,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved login state without contacting the server",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := cmdLogger()

	username := resolvedCfg.Username
	if username == "" {
		return errors.New("username required: pass --username, set username in the config file or CTX_USERNAME")
	}

	fromStdin, err := cmd.Flags().GetBool("password-stdin")
	if err != nil {
		return err
	}

	password, err := loginPassword(cmd.InOrStdin(), fromStdin, resolvedCfg.Password)
	if err != nil {
		return err
	}

	// A fresh login replaces whatever token file exists, readable or not.
	sess := openSession(resolvedCfg, logger, nil)

	logger.Info("login started", "username", username, "server", resolvedCfg.ServerURL)

	if err := sess.Login(cmd.Context(), username, password); err != nil {
		return err
	}

	statusf("Logged in as %s.\n", username)

	return nil
}

// loginPassword returns the first line of stdin when fromStdin is set and
// the configured password otherwise.
func loginPassword(stdin io.Reader, fromStdin bool, configured string) (string, error) {
	if !fromStdin {
		if configured == "" {
			return "", errors.New("password required: set CTX_PASSWORD or use --password-stdin")
		}

		return configured, nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password required: standard input was empty")
	}

	return password, nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := cmdLogger()

	if err := tokenfile.Remove(resolvedCfg.TokenPath()); err != nil {
		return err
	}

	logger.Info("logout successful", "path", resolvedCfg.TokenPath())
	statusf("Logged out.\n")

	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	sess, err := newSession(resolvedCfg, cmdLogger())
	if err != nil {
		return err
	}

	if err := sess.Refresh(cmd.Context()); err != nil {
		return err
	}

	statusf("Token refreshed.\n")

	return nil
}

// Login states reported by `status`.
const (
	stateLoggedOut   = "logged out"
	stateOtherServer = "issued for another server"
	stateExpired     = "access token expired"
	stateValid       = "logged in"
)

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	ServerURL   string     `json:"server_url"`
	State       string     `json:"state"`
	LoggedIn    bool       `json:"logged_in"`
	Username    string     `json:"username,omitempty"`
	TokenServer string     `json:"token_server,omitempty"`
	Expiry      *time.Time `json:"expiry,omitempty"`
	SavedAt     *time.Time `json:"saved_at,omitempty"`
	TokenPath   string     `json:"token_path"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	tf, err := tokenfile.Load(resolvedCfg.TokenPath())
	if err != nil {
		return err
	}

	out := buildStatus(tf, resolvedCfg.ServerURL, resolvedCfg.TokenPath(), time.Now())

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Server:  %s\n", out.ServerURL)
	fmt.Fprintf(w, "State:   %s\n", out.State)

	if out.Username != "" {
		fmt.Fprintf(w, "User:    %s\n", out.Username)
	}

	if out.Expiry != nil {
		fmt.Fprintf(w, "Expires: %s\n", formatTime(out.Expiry.Local()))
	}

	fmt.Fprintf(w, "Token:   %s\n", out.TokenPath)

	return nil
}

// buildStatus classifies a token file. A refresh token is still usable when
// the access token has expired, so an expired file counts as logged in.
func buildStatus(tf *tokenfile.File, serverURL, tokenPath string, now time.Time) statusOutput {
	out := statusOutput{
		ServerURL: serverURL,
		State:     stateLoggedOut,
		TokenPath: tokenPath,
	}

	if tf == nil {
		return out
	}

	out.Username = tf.Username
	savedAt := tf.SavedAt
	out.SavedAt = &savedAt

	if !tf.IssuedFor(serverURL) {
		out.State = stateOtherServer
		out.TokenServer = tf.ServerURL

		return out
	}

	out.LoggedIn = true
	out.State = stateValid

	expiry := tf.Token.Expiry
	if expiry.IsZero() {
		expiry = tokenfile.ExpiryFromJWT(tf.Token.AccessToken)
	}

	if !expiry.IsZero() {
		out.Expiry = &expiry

		if now.After(expiry) {
			out.State = stateExpired
		}
	}

	return out
}
