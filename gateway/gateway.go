/*
Copyright 2024 The Planetary Compute authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gateway implements a client for the platform's compute
// gateway: it exchanges the hub API token for short-lived access
// tokens and provisions, scales and tears down clusters of remote
// workers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultAddress is the platform's compute gateway endpoint.
	DefaultAddress = "https://pccompute.westeurope.cloudapp.azure.com/compute/services/dask-gateway"

	// DefaultProxyAddress is the scheduler proxy clusters are reached
	// through.
	DefaultProxyAddress = "gateway://pccompute-dask.westeurope.cloudapp.azure.com:80"

	// defaultAuthAttempts bounds the access-token exchange attempts
	// made before giving up with an AuthError.
	defaultAuthAttempts = 3
)

// Gateway is a client for the compute gateway. Authentication happens
// lazily: the hub API token is exchanged for a short-lived access
// token before the first remote call and re-exchanged whenever the
// gateway reports it expired. A Gateway is safe for concurrent use.
type Gateway struct {
	address      string
	proxyAddress string
	hubToken     string
	httpClient   *retryablehttp.Client
	log          logr.Logger
	authAttempts int

	mu    sync.Mutex
	token *accessToken
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// valid reports whether the pessimistic expiry has not passed.
func (t *accessToken) valid() bool {
	return t != nil && time.Now().Before(t.expiresAt)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAddress overrides the gateway endpoint.
func WithAddress(address string) Option {
	return func(g *Gateway) {
		g.address = strings.TrimSuffix(address, "/")
	}
}

// WithProxyAddress overrides the scheduler proxy address advertised to
// cluster sessions.
func WithProxyAddress(address string) Option {
	return func(g *Gateway) {
		g.proxyAddress = address
	}
}

// WithLogger sets the logger used for retry and teardown notices.
func WithLogger(log logr.Logger) Option {
	return func(g *Gateway) {
		g.log = log
	}
}

// WithRetries sets the maximum number of retries for transient HTTP
// failures on remote calls.
func WithRetries(retries int) Option {
	return func(g *Gateway) {
		g.httpClient.RetryMax = retries
	}
}

// WithAuthAttempts overrides the bounded number of access-token
// exchange attempts.
func WithAuthAttempts(attempts int) Option {
	return func(g *Gateway) {
		g.authAttempts = attempts
	}
}

// New returns a Gateway authenticating with the given hub API token.
// ErrNoHubToken is returned when the token is empty; no remote call is
// made by the constructor.
func New(hubToken string, opts ...Option) (*Gateway, error) {
	if hubToken == "" {
		return nil, ErrNoHubToken
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryWaitMin = time.Second
	httpClient.RetryWaitMax = 30 * time.Second
	httpClient.RetryMax = 3
	httpClient.Logger = nil

	g := &Gateway{
		address:      DefaultAddress,
		proxyAddress: DefaultProxyAddress,
		hubToken:     hubToken,
		httpClient:   httpClient,
		log:          logr.Discard(),
		authAttempts: defaultAuthAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Address returns the gateway endpoint.
func (g *Gateway) Address() string {
	return g.address
}

// ProxyAddress returns the scheduler proxy address.
func (g *Gateway) ProxyAddress() string {
	return g.proxyAddress
}

// ClusterReport describes one cluster known to the gateway.
type ClusterReport struct {
	Name             string `json:"name"`
	Status           string `json:"status"`
	SchedulerAddress string `json:"scheduler_address,omitempty"`
	Workers          int    `json:"workers,omitempty"`
}

// ListClusters returns the clusters currently owned by the caller.
func (g *Gateway) ListClusters(ctx context.Context) ([]ClusterReport, error) {
	var out struct {
		Clusters []ClusterReport `json:"clusters"`
	}
	if err := g.do(ctx, http.MethodGet, "/api/v1/clusters", nil, &out); err != nil {
		return nil, err
	}
	return out.Clusters, nil
}

// mintAccessToken exchanges the hub API token for an access token,
// retrying up to the configured bound when the gateway reports the
// minted token expired or invalid. Outright rejection of the hub token
// fails immediately with ErrInvalidHubToken.
func (g *Gateway) mintAccessToken(ctx context.Context) (*accessToken, error) {
	var lastErr error
	for attempt := 1; attempt <= g.authAttempts; attempt++ {
		token, err := g.exchangeToken(ctx)
		if err == nil {
			return token, nil
		}
		if errors.Is(err, ErrInvalidHubToken) {
			return nil, err
		}
		var transient *transientAuthError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = err
		g.log.V(1).Info("retrying access token exchange",
			"attempt", attempt, "reason", err.Error())
	}
	return nil, &AuthError{Attempts: g.authAttempts, Err: lastErr}
}

// exchangeToken performs a single token exchange against the gateway.
func (g *Gateway) exchangeToken(ctx context.Context) (*accessToken, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		g.address+"/api/v1/token", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token exchange request: %w", err)
	}
	req.Header.Set("Authorization", "token "+g.hubToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Decoded below.
	case http.StatusForbidden:
		return nil, ErrInvalidHubToken
	case http.StatusUnauthorized:
		return nil, &transientAuthError{status: resp.Status}
	default:
		return nil, fmt.Errorf("token exchange returned status %s", resp.Status)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode token exchange response: %w", err)
	}

	// Expire on 80% of the advertised lifetime so a token is never
	// presented moments before the gateway stops accepting it.
	lifetime := time.Duration(out.ExpiresIn) * time.Second
	return &accessToken{
		value:     out.AccessToken,
		expiresAt: time.Now().Add((lifetime * 8) / 10),
	}, nil
}

// bearerToken returns a valid access token, minting one if the cached
// token is absent or expired.
func (g *Gateway) bearerToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.token.valid() {
		token, err := g.mintAccessToken(ctx)
		if err != nil {
			return "", err
		}
		g.token = token
	}
	return g.token.value, nil
}

// invalidateToken drops the cached access token so the next call mints
// a fresh one.
func (g *Gateway) invalidateToken() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = nil
}

// do performs an authenticated call against the gateway, re-exchanging
// the access token once when the gateway reports it no longer valid.
func (g *Gateway) do(ctx context.Context, method, path string, body any, v any) error {
	resp, err := g.roundTrip(ctx, method, path, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		g.invalidateToken()
		if resp, err = g.roundTrip(ctx, method, path, body); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Attempts: g.authAttempts,
			Err: &transientAuthError{status: resp.Status}}
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: gateway returned status %s: %s",
			method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if v == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

func (g *Gateway) roundTrip(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := g.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode gateway request: %w", err)
		}
		reqBody = strings.NewReader(string(b))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, g.address+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	return resp, nil
}
