// ABOUTME: token subcommand issuing JWTs for the HTTP API
// ABOUTME: Signs with auth.jwt_secret from the gateway config

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/salesgenio/lead-gateway/internal/auth"
	"github.com/salesgenio/lead-gateway/internal/config"
)

// defaultTokenTTL is 30 days.
const defaultTokenTTL = 30 * 24 * time.Hour

type tokenOptions struct {
	subject string
	org     string
	scopes  []string
	ttl     time.Duration
}

func parseTokenFlags(args []string) (*tokenOptions, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "", "Token subject, e.g. a service or bridge name")
	org := fs.String("org", "", "Restrict the token to one organization id")
	scopes := fs.String("scopes", auth.ScopePrompt, "Comma-separated scopes: prompt, read, admin")
	ttl := fs.Duration("ttl", defaultTokenTTL, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	opts := &tokenOptions{
		subject: strings.TrimSpace(*subject),
		org:     strings.TrimSpace(*org),
		ttl:     *ttl,
	}
	if opts.subject == "" {
		return nil, errors.New("--subject is required")
	}
	if opts.ttl <= 0 {
		return nil, errors.New("--ttl must be positive")
	}
	for _, s := range strings.Split(*scopes, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !validScope(s) {
			return nil, fmt.Errorf("unknown scope %q", s)
		}
		opts.scopes = append(opts.scopes, s)
	}
	if len(opts.scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}
	return opts, nil
}

func validScope(s string) bool {
	for _, known := range auth.AllScopes {
		if s == known {
			return true
		}
	}
	return false
}

// issueToken signs a token for opts with secret.
func issueToken(secret string, opts *tokenOptions) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	return verifier.Generate(opts.subject, opts.org, opts.scopes, opts.ttl)
}

func runToken(args []string, out io.Writer) error {
	opts, err := parseTokenFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	token, err := issueToken(cfg.Auth.JWTSecret, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
