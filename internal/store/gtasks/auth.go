package gtasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	tasksapi "google.golang.org/api/tasks/v1"
)

// AuthFiles locates the OAuth client credentials and the cached user token.
// Both are plain JSON files in the application config directory.
type AuthFiles struct {
	// CredentialsFile is the downloaded OAuth client (client_id,
	// client_secret) JSON.
	CredentialsFile string

	// TokenFile caches the user's access + refresh token obtained out of
	// band (tm auth, or any OAuth helper producing the standard token
	// JSON).
	TokenFile string
}

// DefaultAuthFiles returns the conventional locations under
// ~/.config/taskmirror.
func DefaultAuthFiles() (AuthFiles, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return AuthFiles{}, err
	}
	base := filepath.Join(home, ".config", "taskmirror")
	return AuthFiles{
		CredentialsFile: filepath.Join(base, "credentials.json"),
		TokenFile:       filepath.Join(base, "token.json"),
	}, nil
}

// ClientOption builds the authenticated client option for the Tasks
// service: a refreshing token source from the credentials and cached token
// files. Missing or unreadable files are reported so the caller can tell
// the user how to bootstrap authentication.
func (a AuthFiles) ClientOption(ctx context.Context) (option.ClientOption, error) {
	secrets, err := os.ReadFile(a.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", a.CredentialsFile, err)
	}
	config, err := google.ConfigFromJSON(secrets, tasksapi.TasksScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %w", err)
	}

	tok, err := tokenFromFile(a.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("no cached token at %s (run the authorization flow first): %w", a.TokenFile, err)
	}

	// config.TokenSource refreshes the access token transparently from the
	// refresh token.
	return option.WithTokenSource(config.TokenSource(ctx, tok)), nil
}

// Authorize runs the console authorization flow: print the consent URL,
// read the code pasted back on in, exchange it, and cache the resulting
// token. AccessTypeOffline is required so a refresh token comes back and
// the daemon can run unattended.
func (a AuthFiles) Authorize(ctx context.Context, in io.Reader, out io.Writer) error {
	secrets, err := os.ReadFile(a.CredentialsFile)
	if err != nil {
		return fmt.Errorf("unable to read client secret file %s: %w", a.CredentialsFile, err)
	}
	config, err := google.ConfigFromJSON(secrets, tasksapi.TasksScope)
	if err != nil {
		return fmt.Errorf("unable to parse client secret file: %w", err)
	}

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Fprintf(out, "Open the following URL in your browser and authorize access:\n%s\n\nPaste the authorization code: ", authURL)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("unable to exchange authorization code: %w", err)
	}
	return a.SaveToken(tok)
}

// SaveToken caches a token for later use, creating the directory if needed.
func (a AuthFiles) SaveToken(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(a.TokenFile), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	f, err := os.OpenFile(a.TokenFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", a.TokenFile, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}
