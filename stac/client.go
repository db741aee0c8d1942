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

// Package stac implements a thin client for the platform's STAC
// catalog API, attaching the subscription key to every outbound
// request and optionally signing asset locations as items are
// retrieved.
package stac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultCatalogURL is the root endpoint of the platform's STAC catalog.
const DefaultCatalogURL = "https://planetarycomputer.microsoft.com/api/stac/v1"

// SubscriptionKeyHeader is the header carrying the subscription key on
// every catalog and signing request.
const SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// ErrNotFound is returned when the catalog reports a 404 for the
// requested collection or item.
var ErrNotFound = errors.New("not found in catalog")

// Modifier is applied to every item retrieved from the catalog before
// it is returned to the caller, e.g. to sign asset locations.
type Modifier func(ctx context.Context, item *Item) error

// Client is a read-only handle to the STAC catalog. A Client is safe
// for concurrent use after construction.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	modifier   Modifier
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the catalog root endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithModifier sets the modifier applied to retrieved items.
func WithModifier(m Modifier) Option {
	return func(c *Client) {
		c.modifier = m
	}
}

// WithRetries sets the maximum number of retries for transient HTTP
// failures.
func WithRetries(retries int) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = retries
	}
}

// WithLogger sets the logger used to report retried requests.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) {
		c.httpClient.Logger = newErrorLogger(log)
	}
}

// NewClient returns a catalog client that sends the given subscription
// key with every request. An empty subscription key is accepted: the
// catalog then serves only its public subset.
func NewClient(subscriptionKey string, opts ...Option) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryWaitMin = 500 * time.Millisecond
	httpClient.RetryWaitMax = 10 * time.Second
	httpClient.RetryMax = 3
	httpClient.Logger = nil
	httpClient.HTTPClient.Transport = &subscriptionKeyTransport{
		key:  subscriptionKey,
		next: http.DefaultTransport,
	}

	c := &Client{
		baseURL:    DefaultCatalogURL,
		httpClient: httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collections returns all collections published by the catalog.
func (c *Client) Collections(ctx context.Context) ([]Collection, error) {
	var out struct {
		Collections []Collection `json:"collections"`
	}
	if err := c.get(ctx, "/collections", &out); err != nil {
		return nil, err
	}
	return out.Collections, nil
}

// Collection returns a single collection by ID.
func (c *Client) Collection(ctx context.Context, id string) (*Collection, error) {
	var col Collection
	if err := c.get(ctx, "/collections/"+id, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

// Item returns a single item from a collection, with the configured
// modifier applied.
func (c *Client) Item(ctx context.Context, collectionID, itemID string) (*Item, error) {
	var item Item
	if err := c.get(ctx, fmt.Sprintf("/collections/%s/items/%s", collectionID, itemID), &item); err != nil {
		return nil, err
	}
	if err := c.modify(ctx, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Search queries the catalog's item search endpoint. The configured
// modifier is applied to every returned item.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*ItemCollection, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	var out ItemCollection
	if err := c.do(ctx, http.MethodPost, "/search", body, &out); err != nil {
		return nil, err
	}
	for i := range out.Items {
		if err := c.modify(ctx, &out.Items[i]); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

func (c *Client) modify(ctx context.Context, item *Item) error {
	if c.modifier == nil {
		return nil
	}
	if err := c.modifier(ctx, item); err != nil {
		return fmt.Errorf("failed to modify item %s: %w", item.ID, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	return c.do(ctx, http.MethodGet, path, nil, v)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, v any) error {
	var reqBody io.Reader
	if body != nil {
		reqBody = strings.NewReader(string(body))
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create catalog request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s %s: catalog returned status %s", method, path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}

// subscriptionKeyTransport attaches the subscription key header to
// every outbound request.
type subscriptionKeyTransport struct {
	key  string
	next http.RoundTripper
}

func (t *subscriptionKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.key != "" {
		r := req.Clone(req.Context())
		r.Header.Set(SubscriptionKeyHeader, t.key)
		req = r
	}
	return t.next.RoundTrip(req)
}
