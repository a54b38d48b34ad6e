package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
	yt "google.golang.org/api/youtube/v3"
)

// Scopes requested for the YouTube and Sheets clients.
var Scopes = []string{yt.YoutubeForceSslScope, sheets.SpreadsheetsScope}

var (
	// ErrClientSecretMissing means the OAuth client file is absent.
	ErrClientSecretMissing = errors.New("oauth client secret file not found")
	// ErrAuthorization wraps failures of the interactive consent flow.
	ErrAuthorization = errors.New("oauth authorization failed")
)

// AuthConfig locates the OAuth client secret and the cached user token.
type AuthConfig struct {
	ClientSecretPath string
	TokenPath        string
	// Prompt shows the consent URL to the user. Defaults to stderr.
	Prompt func(authURL string)
	// ConsentTimeout bounds the wait for the browser redirect.
	ConsentTimeout time.Duration
}

// TokenSource returns a refreshing token source for the configured user.
// With no cached token it runs the installed-app flow against a loopback
// listener. Refreshed tokens are written back to TokenPath.
func TokenSource(ctx context.Context, ac AuthConfig) (oauth2.TokenSource, error) {
	b, err := os.ReadFile(ac.ClientSecretPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrClientSecretMissing, ac.ClientSecretPath)
	}
	if err != nil {
		return nil, err
	}
	conf, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}

	tok, err := loadToken(ac.TokenPath)
	if err != nil {
		log.Info().Str("token_path", ac.TokenPath).Msg("youtube: no cached token, starting consent flow")
		if tok, err = consent(ctx, conf, ac); err != nil {
			return nil, err
		}
		if err := saveToken(ac.TokenPath, tok); err != nil {
			log.Warn().Err(err).Msg("youtube: token not saved")
		}
	}

	return &savingTokenSource{
		base: conf.TokenSource(context.Background(), tok),
		path: ac.TokenPath,
		last: tok.AccessToken,
	}, nil
}

// savingTokenSource persists the token whenever the access token changes.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			log.Warn().Err(err).Msg("youtube: refreshed token not saved")
		}
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return nil, errors.New("empty token file")
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// consent runs the loopback redirect flow once.
func consent(ctx context.Context, conf *oauth2.Config, ac AuthConfig) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorization, err)
	}
	defer ln.Close()

	cfg := *conf
	cfg.RedirectURL = "http://" + ln.Addr().String()
	state := uuid.NewString()

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			case q.Get("error") != "":
				select {
				case errs <- fmt.Errorf("%w: %s", ErrAuthorization, q.Get("error")):
				default:
				}
			default:
				select {
				case codes <- q.Get("code"):
				default:
				}
			}
			_, _ = fmt.Fprintln(w, "Authorization received, you can close this tab.")
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	if ac.Prompt != nil {
		ac.Prompt(authURL)
	} else {
		fmt.Fprintf(os.Stderr, "Open this URL to authorize access:\n\n  %s\n\n", authURL)
	}

	timeout := ac.ConsentTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	wait, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case code := <-codes:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthorization, err)
		}
		return tok, nil
	case err := <-errs:
		return nil, err
	case <-wait.Done():
		return nil, fmt.Errorf("%w: %v", ErrAuthorization, wait.Err())
	}
}
