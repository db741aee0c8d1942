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

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
)

// ClusterSession is a handle to one live, billable pool of remote
// workers. The session is exclusively owned by its creator and must be
// closed on every exit path; a closed session must never be reused.
type ClusterSession struct {
	gw               *Gateway
	name             string
	schedulerAddress string
	closed           atomic.Bool
}

// NewCluster asks the gateway to provision a new cluster and returns a
// session owning it. The call is synchronous: it returns once the
// cluster's scheduler is reachable. The caller is responsible for
// closing the session; see WithCluster for a scoped variant.
func (g *Gateway) NewCluster(ctx context.Context, opts ClusterOptions) (*ClusterSession, error) {
	if err := opts.Validate(); err != nil {
		return nil, &ClusterError{Op: "create", Err: err}
	}

	var out struct {
		Name             string `json:"name"`
		SchedulerAddress string `json:"scheduler_address"`
	}
	if err := g.do(ctx, http.MethodPost, "/api/v1/clusters", opts.payload(), &out); err != nil {
		return nil, &ClusterError{Op: "create", Err: err}
	}

	return &ClusterSession{
		gw:               g,
		name:             out.Name,
		schedulerAddress: out.SchedulerAddress,
	}, nil
}

// Cluster returns a session attached to an existing cluster, e.g. one
// created by an earlier pipeline run that is still alive.
func (g *Gateway) Cluster(ctx context.Context, name string) (*ClusterSession, error) {
	var report ClusterReport
	if err := g.do(ctx, http.MethodGet, "/api/v1/clusters/"+name, nil, &report); err != nil {
		return nil, &ClusterError{Op: "connect", Name: name, Err: err}
	}

	return &ClusterSession{
		gw:               g,
		name:             report.Name,
		schedulerAddress: report.SchedulerAddress,
	}, nil
}

// WithCluster provisions a cluster, runs fn against it and tears the
// cluster down on every exit path. A teardown failure is logged, never
// returned, so it cannot mask fn's outcome.
func (g *Gateway) WithCluster(ctx context.Context, opts ClusterOptions,
	fn func(ctx context.Context, cluster *ClusterSession) error) error {

	cluster, err := g.NewCluster(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := cluster.Close(context.WithoutCancel(ctx)); err != nil {
			g.log.Error(err, "failed to tear down cluster", "cluster", cluster.Name())
		}
	}()

	return fn(ctx, cluster)
}

// Name returns the gateway-assigned cluster name.
func (s *ClusterSession) Name() string {
	return s.name
}

// SchedulerAddress returns the address work is submitted to.
func (s *ClusterSession) SchedulerAddress() string {
	return s.schedulerAddress
}

// Scale sets the cluster to a fixed number of workers.
func (s *ClusterSession) Scale(ctx context.Context, workers int) error {
	if s.closed.Load() {
		return ErrClusterClosed
	}
	body := map[string]any{"count": workers}
	if err := s.gw.do(ctx, http.MethodPost, "/api/v1/clusters/"+s.name+"/scale", body, nil); err != nil {
		return &ClusterError{Op: "scale", Name: s.name, Err: err}
	}
	return nil
}

// Adapt enables adaptive scaling between the given bounds.
func (s *ClusterSession) Adapt(ctx context.Context, opts AdaptOptions) error {
	if s.closed.Load() {
		return ErrClusterClosed
	}
	if err := opts.Validate(); err != nil {
		return &ClusterError{Op: "adapt", Name: s.name, Err: err}
	}
	body := map[string]any{
		"minimum": opts.Minimum,
		"maximum": opts.Maximum,
		"active":  opts.Active,
	}
	if err := s.gw.do(ctx, http.MethodPost, "/api/v1/clusters/"+s.name+"/adapt", body, nil); err != nil {
		return &ClusterError{Op: "adapt", Name: s.name, Err: err}
	}
	return nil
}

// Close tears the cluster down. The first call releases the remote
// workers; further calls are no-ops so Close is safe on every exit
// path.
func (s *ClusterSession) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.gw.do(ctx, http.MethodDelete, "/api/v1/clusters/"+s.name, nil, nil); err != nil {
		return &ClusterError{Op: "stop", Name: s.name, Err: err}
	}
	return nil
}

// JobSpec describes one unit of work submitted to a cluster.
type JobSpec struct {
	// Name identifies the task to run on the workers.
	Name string `json:"name"`
	// Payload carries the task's arguments.
	Payload map[string]any `json:"payload,omitempty"`
}

// Job is one submitted unit of work.
type Job struct {
	session *ClusterSession
	id      string
}

// Submit hands a unit of work to the cluster. Units submitted
// concurrently may run in parallel across the workers with no ordering
// guarantee.
func (s *ClusterSession) Submit(ctx context.Context, spec JobSpec) (*Job, error) {
	if s.closed.Load() {
		return nil, ErrClusterClosed
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := s.gw.do(ctx, http.MethodPost, "/api/v1/clusters/"+s.name+"/jobs", spec, &out); err != nil {
		return nil, fmt.Errorf("failed to submit job to cluster %q: %w", s.name, err)
	}
	return &Job{session: s, id: out.ID}, nil
}

// ID returns the gateway-assigned job identifier.
func (j *Job) ID() string {
	return j.id
}

// Result blocks until the job completes and returns its result. A job
// that failed remotely returns a *JobError.
func (j *Job) Result(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}
	path := fmt.Sprintf("/api/v1/clusters/%s/jobs/%s/result", j.session.name, j.id)
	if err := j.session.gw.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	if out.Status == "failed" {
		return nil, &JobError{JobID: j.id, Message: out.Error}
	}
	return out.Result, nil
}
