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

// Package gatewaytestserver provides an in-memory fake of the compute
// gateway API for testing purposes: token exchange, cluster lifecycle
// and job submission, with scriptable failures and call accounting.
package gatewaytestserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// JobHandler computes the result of a submitted job in tests.
type JobHandler func(payload map[string]any) (any, error)

// GatewayServer is a fake compute gateway.
type GatewayServer struct {
	server   *httptest.Server
	hubToken string

	mu               sync.Mutex
	accessToken      string
	tokenSerial      int
	exchangeFailures int
	rejectHubToken   bool
	failCreate       bool
	failDelete       bool

	exchangeCalls int
	calls         []string
	clusters      map[string]*clusterState
	clusterSerial int
	jobHandlers   map[string]JobHandler
}

type clusterState struct {
	options map[string]any
	adapt   map[string]any
	jobs    map[string]jobState
	serial  int
}

type jobState struct {
	name    string
	payload map[string]any
}

// New starts a fake gateway accepting the given hub API token.
func New(hubToken string) *GatewayServer {
	s := &GatewayServer{
		hubToken:    hubToken,
		clusters:    make(map[string]*clusterState),
		jobHandlers: make(map[string]JobHandler),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/token", s.handleExchange)
	mux.HandleFunc("GET /api/v1/clusters", s.authenticated(s.handleList))
	mux.HandleFunc("POST /api/v1/clusters", s.authenticated(s.handleCreate))
	mux.HandleFunc("GET /api/v1/clusters/{name}", s.authenticated(s.handleGet))
	mux.HandleFunc("DELETE /api/v1/clusters/{name}", s.authenticated(s.handleDelete))
	mux.HandleFunc("POST /api/v1/clusters/{name}/scale", s.authenticated(s.handleScale))
	mux.HandleFunc("POST /api/v1/clusters/{name}/adapt", s.authenticated(s.handleAdapt))
	mux.HandleFunc("POST /api/v1/clusters/{name}/jobs", s.authenticated(s.handleSubmit))
	mux.HandleFunc("GET /api/v1/clusters/{name}/jobs/{id}/result", s.authenticated(s.handleResult))

	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the fake gateway's address.
func (s *GatewayServer) URL() string {
	return s.server.URL
}

// Stop shuts the fake gateway down.
func (s *GatewayServer) Stop() {
	s.server.Close()
}

// FailExchanges makes the next n token exchanges fail with 401, as a
// gateway reporting expired access tokens does.
func (s *GatewayServer) FailExchanges(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchangeFailures = n
}

// RejectHubToken makes every exchange fail with 403, as a gateway
// rejecting the hub token itself does.
func (s *GatewayServer) RejectHubToken(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectHubToken = reject
}

// ExpireAccessToken invalidates the current access token, so the next
// authenticated call is answered with 401 until a fresh exchange.
func (s *GatewayServer) ExpireAccessToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
}

// FailClusterCreate makes cluster creation fail with 500.
func (s *GatewayServer) FailClusterCreate(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = fail
}

// FailClusterDelete makes cluster deletion fail with 500.
func (s *GatewayServer) FailClusterDelete(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete = fail
}

// HandleJob registers the result handler for jobs submitted under the
// given name. Unregistered jobs succeed with their payload echoed.
func (s *GatewayServer) HandleJob(name string, fn JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobHandlers[name] = fn
}

// ExchangeCalls returns the number of token exchange attempts served.
func (s *GatewayServer) ExchangeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls
}

// Calls returns the ordered cluster lifecycle operations served, e.g.
// ["create", "delete"].
func (s *GatewayServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// LiveClusters returns the number of clusters not yet deleted.
func (s *GatewayServer) LiveClusters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clusters)
}

// ClusterOptions returns the creation payload recorded for a cluster.
func (s *GatewayServer) ClusterOptions(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clusters[name]; ok {
		return c.options
	}
	return nil
}

// AdaptOptions returns the adaptive scaling payload recorded for a
// cluster, nil when adaptive scaling was never requested.
func (s *GatewayServer) AdaptOptions(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clusters[name]; ok {
		return c.adapt
	}
	return nil
}

func (s *GatewayServer) handleExchange(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exchangeCalls++
	if s.rejectHubToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if r.Header.Get("Authorization") != "token "+s.hubToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if s.exchangeFailures > 0 {
		s.exchangeFailures--
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.tokenSerial++
	s.accessToken = fmt.Sprintf("access-%d", s.tokenSerial)
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": s.accessToken,
		"expires_in":   900,
	})
}

func (s *GatewayServer) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.accessToken != "" &&
			r.Header.Get("Authorization") == "Bearer "+s.accessToken
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *GatewayServer) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clusters := make([]map[string]any, 0, len(s.clusters))
	for name := range s.clusters {
		clusters = append(clusters, s.reportLocked(name))
	}
	json.NewEncoder(w).Encode(map[string]any{"clusters": clusters})
}

func (s *GatewayServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, "create")
	if s.failCreate {
		http.Error(w, "no capacity for new clusters", http.StatusInternalServerError)
		return
	}

	var options map[string]any
	if err := json.NewDecoder(r.Body).Decode(&options); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.clusterSerial++
	name := fmt.Sprintf("compute.%04d", s.clusterSerial)
	s.clusters[name] = &clusterState{
		options: options,
		jobs:    make(map[string]jobState),
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(s.reportLocked(name))
}

func (s *GatewayServer) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := r.PathValue("name")
	if _, ok := s.clusters[name]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(s.reportLocked(name))
}

func (s *GatewayServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, "delete")
	if s.failDelete {
		http.Error(w, "cluster manager unavailable", http.StatusInternalServerError)
		return
	}

	name := r.PathValue("name")
	if _, ok := s.clusters[name]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(s.clusters, name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *GatewayServer) handleScale(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, "scale")
	if _, ok := s.clusters[r.PathValue("name")]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *GatewayServer) handleAdapt(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, "adapt")
	cluster, ok := s.clusters[r.PathValue("name")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var adapt map[string]any
	if err := json.NewDecoder(r.Body).Decode(&adapt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cluster.adapt = adapt
	w.WriteHeader(http.StatusOK)
}

func (s *GatewayServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cluster, ok := s.clusters[r.PathValue("name")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var spec struct {
		Name    string         `json:"name"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cluster.serial++
	id := fmt.Sprintf("job-%04d", cluster.serial)
	cluster.jobs[id] = jobState{name: spec.Name, payload: spec.Payload}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (s *GatewayServer) handleResult(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cluster, ok := s.clusters[r.PathValue("name")]
	if !ok {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	job, ok := cluster.jobs[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handler := s.jobHandlers[job.name]
	s.mu.Unlock()

	if handler == nil {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "succeeded",
			"result": job.payload,
		})
		return
	}

	result, err := handler(job.payload)
	if err != nil {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status": "succeeded",
		"result": result,
	})
}

func (s *GatewayServer) reportLocked(name string) map[string]any {
	return map[string]any{
		"name":              name,
		"status":            "running",
		"scheduler_address": strings.TrimSuffix(s.server.URL, "/") + "/clusters/" + name,
	}
}
