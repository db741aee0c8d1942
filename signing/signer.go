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

// Package signing exchanges the subscription key for short-lived SAS
// tokens at the platform's signing endpoint and uses them to sign
// asset locations, so that items retrieved from the catalog can be
// read directly from blob storage.
package signing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/planetary-compute/pkg/cache"
	"github.com/planetary-compute/pkg/stac"
)

// DefaultEndpoint is the root of the platform's SAS signing API.
const DefaultEndpoint = "https://planetarycomputer.microsoft.com/api/sas/v1"

// blobHostSuffix identifies asset locations that live in the
// platform's blob storage and therefore need signing.
const blobHostSuffix = ".blob.core.windows.net"

// Signer signs blob storage URLs with SAS tokens minted from the
// signing endpoint. Tokens are cached per storage account and
// container until near expiry. A Signer is safe for concurrent use.
type Signer struct {
	endpoint        string
	subscriptionKey string
	httpClient      *retryablehttp.Client
	tokens          *cache.TokenCache
}

// Option configures a Signer.
type Option func(*Signer)

// WithEndpoint overrides the signing endpoint.
func WithEndpoint(endpoint string) Option {
	return func(s *Signer) {
		s.endpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithTokenCache sets the cache used for minted SAS tokens. Use this
// to share one cache between signers or to collect cache metrics.
func WithTokenCache(tc *cache.TokenCache) Option {
	return func(s *Signer) {
		s.tokens = tc
	}
}

// NewSigner returns a Signer that authenticates with the given
// subscription key.
func NewSigner(subscriptionKey string, opts ...Option) *Signer {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryWaitMin = 500 * time.Millisecond
	httpClient.RetryWaitMax = 10 * time.Second
	httpClient.RetryMax = 3
	httpClient.Logger = nil

	s := &Signer{
		endpoint:        DefaultEndpoint,
		subscriptionKey: subscriptionKey,
		httpClient:      httpClient,
		tokens:          cache.NewTokenCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignURL returns the given asset location with a SAS token appended.
// Locations outside the platform's blob storage are returned
// unchanged.
func (s *Signer) SignURL(ctx context.Context, href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("failed to parse asset location %q: %w", href, err)
	}

	account, container, ok := splitBlobURL(u)
	if !ok {
		return href, nil
	}

	token, _, err := s.tokens.GetOrSet(ctx, account+"/"+container,
		func(ctx context.Context) (cache.Token, error) {
			return s.mintToken(ctx, account, container)
		})
	if err != nil {
		return "", err
	}

	sas := token.(*sasToken)
	if u.RawQuery == "" {
		u.RawQuery = sas.Token
	} else {
		u.RawQuery += "&" + sas.Token
	}
	return u.String(), nil
}

// SignItem signs every asset location of the given item in place.
func (s *Signer) SignItem(ctx context.Context, item *stac.Item) error {
	for name, asset := range item.Assets {
		signed, err := s.SignURL(ctx, asset.Href)
		if err != nil {
			return fmt.Errorf("failed to sign asset %q: %w", name, err)
		}
		asset.Href = signed
		item.Assets[name] = asset
	}
	return nil
}

// Modifier adapts the signer to the catalog client's item hook, the
// equivalent of enabling automatic signing on the catalog.
func (s *Signer) Modifier() stac.Modifier {
	return s.SignItem
}

// sasToken is the signing endpoint's response, implementing
// cache.Token with the time left until the advertised expiry.
type sasToken struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"msft:expiry"`
}

func (t *sasToken) GetDuration() time.Duration {
	return time.Until(t.Expiry)
}

func (s *Signer) mintToken(ctx context.Context, account, container string) (cache.Token, error) {
	u := fmt.Sprintf("%s/token/%s/%s", s.endpoint, account, container)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing request: %w", err)
	}
	if s.subscriptionKey != "" {
		req.Header.Set(stac.SubscriptionKeyHeader, s.subscriptionKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing endpoint returned status %s for %s/%s",
			resp.Status, account, container)
	}

	var token sasToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode SAS token: %w", err)
	}
	return &token, nil
}

// splitBlobURL extracts the storage account and container from a blob
// storage URL of the form https://{account}.blob.core.windows.net/{container}/...
func splitBlobURL(u *url.URL) (account, container string, ok bool) {
	host := strings.TrimSuffix(u.Host, blobHostSuffix)
	if host == u.Host || host == "" {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", "", false
	}
	return host, parts[0], true
}
