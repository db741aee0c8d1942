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

package runner

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-logr/logr"

	"github.com/planetary-compute/pkg/gateway"
)

type state int

const (
	// statePending: configured, no cluster provisioned yet.
	statePending state = iota
	// stateReady: the cluster exists and accepts work.
	stateReady
	// stateClosed: the run has ended; the cluster is gone.
	stateClosed
)

// ClusterRunner is a TaskRunner backed by one gateway cluster. The
// cluster is provisioned synchronously on the first Submit, reused by
// every further Submit, and torn down unconditionally on Shutdown.
// A ClusterRunner is safe for concurrent Submit calls.
type ClusterRunner struct {
	gw          *gateway.Gateway
	clusterOpts gateway.ClusterOptions
	adaptOpts   *gateway.AdaptOptions
	log         logr.Logger

	mu      sync.Mutex
	state   state
	cluster *gateway.ClusterSession
}

var _ TaskRunner = (*ClusterRunner)(nil)

// Option configures a ClusterRunner.
type Option func(*ClusterRunner)

// WithClusterOptions sets the options for the cluster provisioned at
// first submission.
func WithClusterOptions(opts gateway.ClusterOptions) Option {
	return func(r *ClusterRunner) {
		r.clusterOpts = opts
	}
}

// WithAdaptive auto-scales the provisioned cluster between a minimum
// and maximum worker count. Without this option the cluster keeps the
// gateway's default size.
func WithAdaptive(minimum, maximum int) Option {
	return func(r *ClusterRunner) {
		r.adaptOpts = &gateway.AdaptOptions{
			Minimum: minimum,
			Maximum: maximum,
			Active:  true,
		}
	}
}

// WithLogger sets the logger used for teardown notices.
func WithLogger(log logr.Logger) Option {
	return func(r *ClusterRunner) {
		r.log = log
	}
}

// NewClusterRunner returns a ClusterRunner submitting work through the
// given gateway. No remote call is made until the first Submit.
func NewClusterRunner(gw *gateway.Gateway, opts ...Option) *ClusterRunner {
	r := &ClusterRunner{
		gw:  gw,
		log: logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Duplicate returns a fresh, unstarted runner with the same
// configuration. The new runner owns its own cluster.
func (r *ClusterRunner) Duplicate() *ClusterRunner {
	dup := NewClusterRunner(r.gw,
		WithClusterOptions(r.clusterOpts),
		WithLogger(r.log))
	if r.adaptOpts != nil {
		dup.adaptOpts = &gateway.AdaptOptions{
			Minimum: r.adaptOpts.Minimum,
			Maximum: r.adaptOpts.Maximum,
			Active:  r.adaptOpts.Active,
		}
	}
	return dup
}

// Start implements TaskRunner. Provisioning is deferred to the first
// Submit, so Start only verifies the runner is usable.
func (r *ClusterRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateClosed {
		return ErrRunnerClosed
	}
	return nil
}

// Submit implements TaskRunner. The first call provisions the cluster;
// a provisioning failure is fatal to the run and propagates unchanged.
func (r *ClusterRunner) Submit(ctx context.Context, name string, payload map[string]any) (Future, error) {
	cluster, err := r.ensureCluster(ctx)
	if err != nil {
		return nil, err
	}

	job, err := cluster.Submit(ctx, gateway.JobSpec{Name: name, Payload: payload})
	if err != nil {
		return nil, err
	}
	return &jobFuture{job: job}, nil
}

// Shutdown implements TaskRunner. The cluster, if one was provisioned,
// is torn down unconditionally; a teardown failure is logged rather
// than returned so it never masks the run's real outcome.
func (r *ClusterRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateClosed {
		return nil
	}

	if r.state == stateReady {
		if err := r.cluster.Close(context.WithoutCancel(ctx)); err != nil {
			r.log.Error(err, "failed to tear down cluster",
				"cluster", r.cluster.Name())
		}
		r.cluster = nil
	}
	r.state = stateClosed
	return nil
}

// ensureCluster provisions the runner's cluster on first use. The
// transition happens at most once: concurrent first submissions
// serialize on the lock and all share the one cluster.
func (r *ClusterRunner) ensureCluster(ctx context.Context) (*gateway.ClusterSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateClosed:
		return nil, ErrRunnerClosed
	case stateReady:
		return r.cluster, nil
	}

	cluster, err := r.gw.NewCluster(ctx, r.clusterOpts)
	if err != nil {
		return nil, err
	}
	if r.adaptOpts != nil {
		if err := cluster.Adapt(ctx, *r.adaptOpts); err != nil {
			// The cluster is unusable for this run; release it rather
			// than leak billable workers.
			if cerr := cluster.Close(context.WithoutCancel(ctx)); cerr != nil {
				r.log.Error(cerr, "failed to tear down cluster",
					"cluster", cluster.Name())
			}
			return nil, err
		}
	}

	r.cluster = cluster
	r.state = stateReady
	r.log.V(1).Info("provisioned cluster for pipeline run",
		"cluster", cluster.Name())
	return cluster, nil
}

// jobFuture adapts a gateway job to the Future contract.
type jobFuture struct {
	job *gateway.Job
}

func (f *jobFuture) Result(ctx context.Context) (json.RawMessage, error) {
	return f.job.Result(ctx)
}
