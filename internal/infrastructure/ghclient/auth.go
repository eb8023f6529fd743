package ghclient

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"

	"ghchrono/internal/bootstrap/config"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
)

// NewFromConfig builds an authenticated client. GitHub App installation
// credentials win over a token; with neither it is a configuration error.
func NewFromConfig(ctx context.Context, cfg config.GitHubConfig) (*Client, error) {
	if err := cfg.RequireAuth(); err != nil {
		return nil, err
	}
	httpClient, err := authenticatedHTTPClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(httpClient, OptionsFromConfig(cfg))
}

func authenticatedHTTPClient(ctx context.Context, cfg config.GitHubConfig) (*http.Client, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "ghclient.auth"))

	if cfg.UsesApp() {
		transport, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
		if err != nil {
			return nil, errs.Configf("load github app key %q: %v", cfg.PrivateKeyPath, err)
		}
		if base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
			transport.BaseURL = base
		}
		logging.Info(logCtx, "using github app installation auth",
			slog.Int64("app_id", cfg.AppID),
			slog.Int64("installation_id", cfg.InstallationID),
		)
		return &http.Client{Transport: transport}, nil
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(cfg.Token), TokenType: "Bearer"})
	logging.Debug(logCtx, "using github token auth")
	return oauth2.NewClient(ctx, source), nil
}
