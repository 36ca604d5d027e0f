// Package auth obtains the identity token sent with document submissions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no identity token is available.
var ErrNoToken = errors.New("no identity token available")

// ErrNoIDToken is returned when a token response lacks an id_token.
var ErrNoIDToken = errors.New("token response has no id_token")

// TokenSource yields the token placed in the Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token. The empty token yields ErrNoToken.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Chain tries each source in order and returns the first token found. A
// source failing with anything other than ErrNoToken stops the chain.
type Chain []TokenSource

// Token implements TokenSource.
func (c Chain) Token(ctx context.Context) (string, error) {
	for _, ts := range c {
		if ts == nil {
			continue
		}
		tok, err := ts.Token(ctx)
		switch {
		case err == nil && tok != "":
			return tok, nil
		case err != nil && !errors.Is(err, ErrNoToken):
			return "", err
		}
	}
	return "", ErrNoToken
}

// Store is a TokenSource holding the token of a logged-in user.
type Store struct {
	mu    sync.RWMutex
	token string
}

// Set replaces the stored token.
func (s *Store) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear forgets the stored token.
func (s *Store) Clear() { s.Set("") }

// Token implements TokenSource.
func (s *Store) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// Config describes a Cognito hosted-UI app client.
type Config struct {
	Domain      string   `mapstructure:"domain" yaml:"domain" json:"domain"`
	ClientID    string   `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	RedirectURI string   `mapstructure:"redirect_uri" yaml:"redirect_uri" json:"redirect_uri"`
	Scopes      []string `mapstructure:"scopes" yaml:"scopes" json:"scopes"`
}

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"email", "openid", "phone"}

// Configured reports whether enough is set to run the login flow.
func (c Config) Configured() bool {
	return c.Domain != "" && c.ClientID != "" && c.RedirectURI != ""
}

// Cognito runs the authorization-code flow against a Cognito hosted UI.
type Cognito struct {
	domain string
	oauth  *oauth2.Config
}

// NewCognito validates cfg and builds the client.
func NewCognito(cfg Config) (*Cognito, error) {
	if !cfg.Configured() {
		return nil, errors.New("auth: domain, client_id and redirect_uri are required")
	}
	domain := strings.TrimRight(cfg.Domain, "/")
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	if _, err := url.Parse(domain); err != nil {
		return nil, fmt.Errorf("auth: invalid domain: %w", err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Cognito{
		domain: domain,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   domain + "/login",
				TokenURL:  domain + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}, nil
}

// LoginURL is the hosted-UI address the user is sent to.
func (c *Cognito) LoginURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for the user's ID token.
func (c *Cognito) Exchange(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", errors.New("auth: empty authorization code")
	}
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("auth: token exchange: %w", err)
	}
	id, _ := tok.Extra("id_token").(string)
	if id == "" {
		return "", ErrNoIDToken
	}
	return id, nil
}

// LogoutURL ends the hosted-UI session and returns the user to the redirect URI.
func (c *Cognito) LogoutURL() string {
	v := url.Values{}
	v.Set("client_id", c.oauth.ClientID)
	v.Set("logout_uri", c.oauth.RedirectURL)
	return c.domain + "/logout?" + v.Encode()
}
