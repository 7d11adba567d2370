package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"
)

// NewPATClient creates a Client authenticated with a personal access token.
// The usual mode for CLI runs and single-runner deployments.
func NewPATClient(ctx context.Context, token string, logger *slog.Logger) Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return NewClient(github.NewClient(tc), logger)
}

// NewInstallationClient creates a Client authenticated as a GitHub App
// installation, for deployments where a bot identity posts the reviews.
func NewInstallationClient(appID, installationID int64, privateKeyPath string, logger *slog.Logger) (Client, error) {
	privateKey, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", privateKeyPath, err)
	}

	transport, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}

	logger.Info("created GitHub App installation client", "app_id", appID, "installation_id", installationID)
	return NewClient(github.NewClient(&http.Client{Transport: transport}), logger), nil
}
