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

// Package credentials stores the platform credentials — a subscription
// key for the data catalog and a hub API token for the compute
// gateway — in a named Kubernetes Secret, and acts as the session
// factory handing out pre-configured catalog and gateway clients.
package credentials

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Keys of the credential fields inside the Secret data.
const (
	SubscriptionKeyField = "subscriptionKey"
	HubAPITokenField     = "hubAPIToken"
)

// ErrNoSubscriptionKey is returned when a catalog client is requested
// from credentials that hold no subscription key.
var ErrNoSubscriptionKey = errors.New("no subscription key in credentials")

// Credentials holds the two platform secrets for the duration of a
// pipeline run. Construct once per run with New or Load and treat as
// read-only thereafter.
type Credentials struct {
	subscriptionKey string
	hubAPIToken     string

	catalog catalogCache
}

// New returns credentials from the given secret strings. The hub API
// token may be empty, which leaves the catalog available but disables
// gateway construction.
func New(subscriptionKey, hubAPIToken string) *Credentials {
	return &Credentials{
		subscriptionKey: subscriptionKey,
		hubAPIToken:     hubAPIToken,
	}
}

// HasHubToken reports whether a hub API token is present, i.e. whether
// compute clusters can be provisioned with these credentials.
func (c *Credentials) HasHubToken() bool {
	return c.hubAPIToken != ""
}

// Load reads credentials from the named Secret. A missing Secret
// surfaces as the API server's NotFound error, unchanged.
func Load(ctx context.Context, kubeClient client.Client, name client.ObjectKey) (*Credentials, error) {
	var secret corev1.Secret
	if err := kubeClient.Get(ctx, name, &secret); err != nil {
		return nil, err
	}
	return New(
		string(secret.Data[SubscriptionKeyField]),
		string(secret.Data[HubAPITokenField]),
	), nil
}

// Save persists the credentials under the named Secret, creating or
// updating it as needed.
func (c *Credentials) Save(ctx context.Context, kubeClient client.Client, name client.ObjectKey) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.Name,
			Namespace: name.Namespace,
		},
		Data: c.secretData(),
	}

	if err := kubeClient.Create(ctx, secret); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("failed to save credentials %q: %w", name, err)
		}
		var existing corev1.Secret
		if err := kubeClient.Get(ctx, name, &existing); err != nil {
			return fmt.Errorf("failed to save credentials %q: %w", name, err)
		}
		existing.Data = c.secretData()
		if err := kubeClient.Update(ctx, &existing); err != nil {
			return fmt.Errorf("failed to save credentials %q: %w", name, err)
		}
	}
	return nil
}

func (c *Credentials) secretData() map[string][]byte {
	data := map[string][]byte{
		SubscriptionKeyField: []byte(c.subscriptionKey),
	}
	if c.hubAPIToken != "" {
		data[HubAPITokenField] = []byte(c.hubAPIToken)
	}
	return data
}
