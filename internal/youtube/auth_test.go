package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const clientSecret = `{"installed":{"client_id":"id","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func TestTokenSource_MissingClientSecret(t *testing.T) {
	_, err := TokenSource(context.Background(), AuthConfig{ClientSecretPath: filepath.Join(t.TempDir(), "nope.json")})
	if !errors.Is(err, ErrClientSecretMissing) {
		t.Fatalf("expected ErrClientSecretMissing, got %v", err)
	}
}

func TestTokenSource_UsesCachedToken(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "client_secret.json")
	if err := os.WriteFile(secret, []byte(clientSecret), 0o600); err != nil {
		t.Fatal(err)
	}
	tokenPath := filepath.Join(dir, "token.json")
	b, _ := json.Marshal(&oauth2.Token{AccessToken: "abc", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)})
	if err := os.WriteFile(tokenPath, b, 0o600); err != nil {
		t.Fatal(err)
	}

	ts, err := TokenSource(context.Background(), AuthConfig{
		ClientSecretPath: secret,
		TokenPath:        tokenPath,
		Prompt:           func(string) { t.Fatal("consent flow should not run") },
	})
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	tok, err := ts.Token()
	if err != nil || tok.AccessToken != "abc" {
		t.Fatalf("Token = %+v, %v", tok, err)
	}
}

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	if err := saveToken(path, &oauth2.Token{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken(path)
	if err != nil || tok.RefreshToken != "r" {
		t.Fatalf("loadToken = %+v, %v", tok, err)
	}
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadToken(path); err == nil {
		t.Fatal("empty token should be rejected")
	}
}
