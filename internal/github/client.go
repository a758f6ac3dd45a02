package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
)

// AuthConfig selects how the REST client authenticates.
type AuthConfig struct {
	Mode           string // "token", "app" or "" for anonymous
	Token          string
	AppID          string
	InstallationID string
	PrivateKey     string
	PrivateKeyPath string
}

// NewClient builds a REST client for the configured auth mode.
func NewClient(ctx context.Context, auth AuthConfig) (*gogithub.Client, error) {
	switch auth.Mode {
	case "token":
		return NewTokenClient(ctx, auth.Token), nil
	case "app":
		appID, err := strconv.ParseInt(auth.AppID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid app_id %q: %w", auth.AppID, err)
		}
		installationID, err := strconv.ParseInt(auth.InstallationID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid installation_id %q: %w", auth.InstallationID, err)
		}
		return NewGitHubClient(appID, installationID, []byte(auth.PrivateKey), auth.PrivateKeyPath)
	case "":
		return gogithub.NewClient(nil), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", auth.Mode)
	}
}

// NewTokenClient creates a GitHub API client authenticated with a personal
// access token.
func NewTokenClient(ctx context.Context, token string) *gogithub.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return gogithub.NewClient(oauth2.NewClient(ctx, ts))
}

// NewGitHubClient creates a GitHub API client authenticated as a GitHub App
// installation. It uses ghinstallation for automatic JWT and installation
// token management.
//
// privateKey can be either:
//   - Raw PEM bytes (begins with "-----BEGIN")
//   - Base64-encoded PEM bytes
//
// If privateKey is nil or empty and privateKeyPath is provided, the key is
// read from that file path.
func NewGitHubClient(appID, installationID int64, privateKey []byte, privateKeyPath string) (*gogithub.Client, error) {
	key, err := resolvePrivateKey(privateKey, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("resolving private key: %w", err)
	}

	transport, err := ghinstallation.New(http.DefaultTransport, appID, installationID, key)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}

	return gogithub.NewClient(&http.Client{Transport: transport}), nil
}

// resolvePrivateKey returns PEM-encoded private key bytes from either the
// provided raw/base64-encoded key or by reading from a file path.
func resolvePrivateKey(key []byte, keyPath string) ([]byte, error) {
	if len(key) > 0 {
		s := strings.TrimSpace(string(key))
		if strings.HasPrefix(s, "-----BEGIN") {
			return []byte(s), nil
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			decoded, err = base64.URLEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("private key is neither PEM nor valid base64: %w", err)
			}
		}
		return decoded, nil
	}

	if keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key file %s: %w", keyPath, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("no private key provided: set private_key or private_key_path")
}

// SplitRepo splits "owner/repo" into its parts.
func SplitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
