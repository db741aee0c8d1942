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

package cache

import (
	"context"
	"sync"
	"time"
)

// Token is an interface that represents a short-lived platform token.
// The only common method is for getting the remaining validity of the
// token, because the gateway and the signing endpoint represent their
// tokens differently. Consumers of this interface should know what
// type to cast it to.
type Token interface {
	// GetDuration returns the duration for which the token will still
	// be valid relative to approximately time.Now(). This is used to
	// determine when the token should be refreshed.
	GetDuration() time.Duration
}

// TokenCache is a thread-safe cache specialized in storing and
// retrieving platform tokens. It expires tokens in a pessimistic way
// by storing both a timestamp with a monotonic clock (the Go default)
// and an absolute timestamp created from the Unix timestamp of when
// the token was stored. The token is considered expired when either
// timestamp is older than the current time. Tokens expire on 80% of
// their lifetime, which is the same strategy used by kubelet for
// rotating ServiceAccount tokens.
type TokenCache struct {
	mu      sync.Mutex
	tokens  map[string]*tokenItem
	metrics *cacheMetrics
}

type tokenItem struct {
	token Token
	mono  time.Time
	unix  time.Time
}

// NewTokenCache returns a new TokenCache.
func NewTokenCache(opts ...Options) *TokenCache {
	var o cacheOptions
	o.apply(opts...)

	c := &TokenCache{tokens: make(map[string]*tokenItem)}
	if o.registerer != nil {
		c.metrics = newCacheMetrics(o.metricsPrefix, o.registerer)
	}
	return c
}

// GetOrSet returns the token for the given key if present and not
// expired, or calls the newToken function to mint a new token and
// stores it in the cache. The operation is atomic: concurrent calls
// for any key serialize on the cache lock, so a given key is fetched
// at most once per expiry. The boolean return value indicates whether
// the token was served from the cache.
func (c *TokenCache) GetOrSet(ctx context.Context, key string,
	newToken func(context.Context) (Token, error)) (Token, bool, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.tokens[key]; ok && !item.expired() {
		c.metrics.incCacheEvents(CacheEventTypeHit)
		return item.token, true, nil
	}

	token, err := newToken(ctx)
	if err != nil {
		c.metrics.incCacheRequests(StatusFailure)
		return nil, false, err
	}
	c.metrics.incCacheRequests(StatusSuccess)
	c.metrics.incCacheEvents(CacheEventTypeMiss)

	if _, ok := c.tokens[key]; ok {
		c.metrics.incCacheEvictions()
	}
	c.tokens[key] = c.newItem(token)
	c.metrics.setCachedItems(float64(len(c.tokens)))

	return token, false, nil
}

// Delete removes the token for the given key, if present.
func (c *TokenCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tokens[key]; ok {
		delete(c.tokens, key)
		c.metrics.incCacheEvictions()
		c.metrics.setCachedItems(float64(len(c.tokens)))
	}
}

func (c *TokenCache) newItem(token Token) *tokenItem {
	// Kubelet rotates ServiceAccount tokens when 80% of their lifetime
	// has passed, so we use the same threshold to consider tokens
	// expired.
	//
	// Ref: https://github.com/kubernetes/kubernetes/blob/4032177faf21ae2f99a2012634167def2376b370/pkg/kubelet/token/token_manager.go#L172-L174
	d := (token.GetDuration() * 8) / 10

	mono := time.Now().Add(d)
	unix := time.Unix(mono.Unix(), 0)

	return &tokenItem{
		token: token,
		mono:  mono,
		unix:  unix,
	}
}

func (ti *tokenItem) expired() bool {
	now := time.Now()
	return !ti.mono.After(now) || !ti.unix.After(now)
}
