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

package stac

import "encoding/json"

// Collection describes one dataset published by the catalog.
type Collection struct {
	ID          string          `json:"id"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	License     string          `json:"license,omitempty"`
	Extent      json.RawMessage `json:"extent,omitempty"`
	Keywords    []string        `json:"keywords,omitempty"`
}

// Item is one STAC item: a spatiotemporal record with its assets.
type Item struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection,omitempty"`
	Geometry   json.RawMessage  `json:"geometry,omitempty"`
	BBox       []float64        `json:"bbox,omitempty"`
	Properties map[string]any   `json:"properties,omitempty"`
	Assets     map[string]Asset `json:"assets,omitempty"`
}

// Asset points at one file belonging to an item, typically a blob in
// the platform's storage that requires signing before it can be read.
type Asset struct {
	Href  string   `json:"href"`
	Title string   `json:"title,omitempty"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// SearchRequest is the body of a POST /search call.
type SearchRequest struct {
	Collections []string       `json:"collections,omitempty"`
	IDs         []string       `json:"ids,omitempty"`
	BBox        []float64      `json:"bbox,omitempty"`
	Datetime    string         `json:"datetime,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	Query       map[string]any `json:"query,omitempty"`
}

// ItemCollection is one page of search results.
type ItemCollection struct {
	Items      []Item `json:"features"`
	NumMatched int    `json:"numberMatched,omitempty"`
}
