package cmd

import (
	"context"
	"fmt"
	"io"

	"ghconf/pkg/config"
	"ghconf/pkg/github"
)

// loadConfig reads the configuration file and applies the global flags
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.GetConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfigFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load ghconf config: %w", err)
	}

	if orgFlag != "" {
		cfg.Organization = orgFlag
	}
	if tokenFlag != "" {
		cfg.GitHub.Token = tokenFlag
	}
	return cfg, nil
}

// validateToken resolves the token and checks it against the API
func validateToken(ctx context.Context, cfg *config.Config, stderr io.Writer) (string, *github.TokenInfo, error) {
	authManager := github.NewAuthManager()

	token := tokenFlag
	if token == "" {
		var err error
		if token, err = authManager.GetToken(cfg); err != nil {
			fmt.Fprintf(stderr, "%s\n", github.GetAuthInstructions())
			return "", nil, err
		}
	}

	if err := authManager.Authenticate(token, cfg.GitHub.BaseURL); err != nil {
		return "", nil, err
	}

	tokenInfo, err := authManager.ValidateToken(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Authentication failed: %v\n\n", err)
		fmt.Fprintf(stderr, "%s\n", github.GetAuthInstructions())
		return "", nil, err
	}
	logger.Debug().Str("user", tokenInfo.User).Strs("scopes", tokenInfo.Scopes).Msg("token validated")
	return token, tokenInfo, nil
}

// authenticate validates the configured token and builds an organization client
func authenticate(ctx context.Context, cfg *config.Config, stderr io.Writer) (*github.Client, *github.TokenInfo, error) {
	token, tokenInfo, err := validateToken(ctx, cfg, stderr)
	if err != nil {
		return nil, nil, err
	}

	limits := github.DefaultRateLimiterConfig()
	limits.RequestsPerSecond = cfg.Rate.RequestsPerSecond
	limits.Burst = cfg.Rate.Burst
	limits.MinRemainingRequests = cfg.Rate.MinRemaining

	client, err := github.NewClient(token, cfg.Organization,
		github.WithBaseURL(cfg.GitHub.BaseURL),
		github.WithRateLimiter(github.NewRateLimiter(limits)),
		github.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return client, tokenInfo, nil
}
