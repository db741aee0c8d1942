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

package credentials

import (
	"context"
	"sync"

	"github.com/planetary-compute/pkg/gateway"
	"github.com/planetary-compute/pkg/signing"
	"github.com/planetary-compute/pkg/stac"
)

// catalogCache memoizes the catalog client handed out by
// CatalogClient.
type catalogCache struct {
	once   sync.Once
	client *stac.Client
}

// CatalogClient returns a catalog client that attaches the
// subscription key to every request and signs asset locations as items
// are retrieved. The client is constructed on first call and cached:
// repeated calls return the identical handle, and options passed to
// later calls have no effect. ErrNoSubscriptionKey is returned when no
// subscription key is present; no network call is made.
func (c *Credentials) CatalogClient(opts ...stac.Option) (*stac.Client, error) {
	if c.subscriptionKey == "" {
		return nil, ErrNoSubscriptionKey
	}
	c.catalog.once.Do(func() {
		signer := signing.NewSigner(c.subscriptionKey)
		opts = append([]stac.Option{stac.WithModifier(signer.Modifier())}, opts...)
		c.catalog.client = stac.NewClient(c.subscriptionKey, opts...)
	})
	return c.catalog.client, nil
}

// Gateway returns a new compute gateway client authenticated with the
// hub API token. Unlike CatalogClient the client is not cached, so
// callers can hold independently configured gateways.
// gateway.ErrNoHubToken is returned when no token is present; no token
// exchange is attempted.
func (c *Credentials) Gateway(opts ...gateway.Option) (*gateway.Gateway, error) {
	return gateway.New(c.hubAPIToken, opts...)
}

// NewClusterSession provisions a cluster through a fresh gateway
// client and returns the session owning it. The caller must close the
// session on every exit path; prefer WithClusterSession where the
// work fits one scope.
func (c *Credentials) NewClusterSession(ctx context.Context, opts gateway.ClusterOptions,
	gwOpts ...gateway.Option) (*gateway.ClusterSession, error) {

	gw, err := c.Gateway(gwOpts...)
	if err != nil {
		return nil, err
	}
	return gw.NewCluster(ctx, opts)
}

// WithClusterSession provisions a cluster, runs fn against it and
// guarantees teardown on every exit path, including when fn fails.
func (c *Credentials) WithClusterSession(ctx context.Context, opts gateway.ClusterOptions,
	fn func(ctx context.Context, cluster *gateway.ClusterSession) error,
	gwOpts ...gateway.Option) error {

	gw, err := c.Gateway(gwOpts...)
	if err != nil {
		return err
	}
	return gw.WithCluster(ctx, opts, fn)
}
