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

package stac_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/planetary-compute/pkg/stac"
)

func newCatalogServer(t *testing.T, subscriptionKeys *[]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		*subscriptionKeys = append(*subscriptionKeys, r.Header.Get(stac.SubscriptionKeyHeader))
		json.NewEncoder(w).Encode(map[string]any{
			"collections": []map[string]any{
				{"id": "landsat-c2-l2", "title": "Landsat Collection 2 Level-2"},
				{"id": "sentinel-2-l2a"},
			},
		})
	})
	mux.HandleFunc("/collections/landsat-c2-l2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "landsat-c2-l2"})
	})
	mux.HandleFunc("/collections/landsat-c2-l2/items/first", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "first",
			"collection": "landsat-c2-l2",
			"assets": map[string]any{
				"red": map[string]any{"href": "https://landsat.blob.example/c2/red.tif"},
			},
		})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		*subscriptionKeys = append(*subscriptionKeys, r.Header.Get(stac.SubscriptionKeyHeader))
		var req stac.SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"features": []map[string]any{
				{"id": "item-1", "collection": req.Collections[0]},
				{"id": "item-2", "collection": req.Collections[0]},
			},
			"numberMatched": 2,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Collections(t *testing.T) {
	g := NewWithT(t)

	var keys []string
	srv := newCatalogServer(t, &keys)
	client := stac.NewClient("sub-key", stac.WithBaseURL(srv.URL))

	cols, err := client.Collections(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cols).To(HaveLen(2))
	g.Expect(cols[0].ID).To(Equal("landsat-c2-l2"))
	g.Expect(keys).To(ConsistOf("sub-key"))
}

func TestClient_Collection_NotFound(t *testing.T) {
	g := NewWithT(t)

	var keys []string
	srv := newCatalogServer(t, &keys)
	client := stac.NewClient("sub-key", stac.WithBaseURL(srv.URL), stac.WithRetries(0))

	_, err := client.Collection(context.Background(), "no-such-collection")
	g.Expect(err).To(MatchError(stac.ErrNotFound))
}

func TestClient_Search(t *testing.T) {
	g := NewWithT(t)

	var keys []string
	srv := newCatalogServer(t, &keys)

	var modified []string
	modifier := func(ctx context.Context, item *stac.Item) error {
		modified = append(modified, item.ID)
		return nil
	}
	client := stac.NewClient("sub-key",
		stac.WithBaseURL(srv.URL),
		stac.WithModifier(modifier))

	res, err := client.Search(context.Background(), stac.SearchRequest{
		Collections: []string{"landsat-c2-l2"},
		BBox:        []float64{-122.2751, 47.5469, -121.9613, 47.7458},
		Datetime:    "2020-12-01/2020-12-31",
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res.Items).To(HaveLen(2))
	g.Expect(res.NumMatched).To(Equal(2))
	g.Expect(modified).To(Equal([]string{"item-1", "item-2"}))
}

func TestClient_Item_AppliesModifier(t *testing.T) {
	g := NewWithT(t)

	var keys []string
	srv := newCatalogServer(t, &keys)

	modifier := func(ctx context.Context, item *stac.Item) error {
		asset := item.Assets["red"]
		asset.Href += "?signed"
		item.Assets["red"] = asset
		return nil
	}
	client := stac.NewClient("sub-key",
		stac.WithBaseURL(srv.URL),
		stac.WithModifier(modifier))

	item, err := client.Item(context.Background(), "landsat-c2-l2", "first")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(item.Assets["red"].Href).To(HaveSuffix("?signed"))
}

func TestClient_NoSubscriptionKeyHeaderWhenEmpty(t *testing.T) {
	g := NewWithT(t)

	var keys []string
	srv := newCatalogServer(t, &keys)
	client := stac.NewClient("", stac.WithBaseURL(srv.URL))

	_, err := client.Collections(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(keys).To(ConsistOf(""))
}
