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

package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/planetary-compute/pkg/gateway"
	"github.com/planetary-compute/pkg/gatewaytestserver"
	"github.com/planetary-compute/pkg/runner"
)

func newRunner(t *testing.T, opts ...runner.Option) (*runner.ClusterRunner, *gatewaytestserver.GatewayServer) {
	t.Helper()

	srv := gatewaytestserver.New("hub-token")
	t.Cleanup(srv.Stop)

	gw, err := gateway.New("hub-token",
		gateway.WithAddress(srv.URL()),
		gateway.WithRetries(0))
	if err != nil {
		t.Fatalf("failed to construct gateway: %v", err)
	}
	return runner.NewClusterRunner(gw, opts...), srv
}

func TestClusterRunner_NoSubmissions(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t)

	g.Expect(r.Start(context.Background())).To(Succeed())
	g.Expect(r.Shutdown(context.Background())).To(Succeed())

	// No cluster was ever created, so teardown is a no-op.
	g.Expect(srv.Calls()).To(BeEmpty())
	g.Expect(srv.ExchangeCalls()).To(BeZero())
}

func TestClusterRunner_SubmitThenShutdown(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t)

	g.Expect(r.Start(context.Background())).To(Succeed())

	future, err := r.Submit(context.Background(), "resolve", map[string]any{"item": "a"})
	g.Expect(err).NotTo(HaveOccurred())
	_, err = future.Result(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(r.Shutdown(context.Background())).To(Succeed())
	g.Expect(srv.Calls()).To(Equal([]string{"create", "delete"}))
	g.Expect(srv.LiveClusters()).To(BeZero())
}

func TestClusterRunner_TeardownDespiteFailedWork(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t)
	srv.HandleJob("explode", func(payload map[string]any) (any, error) {
		return nil, errors.New("worker crashed")
	})

	future, err := r.Submit(context.Background(), "explode", nil)
	g.Expect(err).NotTo(HaveOccurred())

	_, err = future.Result(context.Background())
	g.Expect(err).To(HaveOccurred())
	var jobErr *gateway.JobError
	g.Expect(errors.As(err, &jobErr)).To(BeTrue())

	g.Expect(r.Shutdown(context.Background())).To(Succeed())
	g.Expect(srv.Calls()).To(Equal([]string{"create", "delete"}))
}

func TestClusterRunner_ReusesCluster(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t)

	for i := 0; i < 3; i++ {
		future, err := r.Submit(context.Background(), "resolve", nil)
		g.Expect(err).NotTo(HaveOccurred())
		_, err = future.Result(context.Background())
		g.Expect(err).NotTo(HaveOccurred())
	}

	g.Expect(r.Shutdown(context.Background())).To(Succeed())
	g.Expect(srv.Calls()).To(Equal([]string{"create", "delete"}))
}

func TestClusterRunner_ConcurrentFirstSubmissions(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Submit(context.Background(), "resolve", nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		g.Expect(err).NotTo(HaveOccurred())
	}
	g.Expect(r.Shutdown(context.Background())).To(Succeed())
	g.Expect(srv.Calls()).To(Equal([]string{"create", "delete"}))
}

func TestClusterRunner_AppliesAdaptiveBounds(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t,
		runner.WithClusterOptions(gateway.ClusterOptions{Image: "pangeo/pangeo-notebook:latest"}),
		runner.WithAdaptive(2, 10))

	_, err := r.Submit(context.Background(), "resolve", nil)
	g.Expect(err).NotTo(HaveOccurred())

	clusters, err := listClusterNames(srv)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(clusters).To(HaveLen(1))

	adapt := srv.AdaptOptions(clusters[0])
	g.Expect(adapt).To(HaveKeyWithValue("minimum", 2.0))
	g.Expect(adapt).To(HaveKeyWithValue("maximum", 10.0))
	g.Expect(adapt).To(HaveKeyWithValue("active", true))

	options := srv.ClusterOptions(clusters[0])
	g.Expect(options).To(HaveKeyWithValue("image", "pangeo/pangeo-notebook:latest"))

	g.Expect(r.Shutdown(context.Background())).To(Succeed())
}

func TestClusterRunner_ProvisioningFailureIsFatal(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t)
	srv.FailClusterCreate(true)

	_, err := r.Submit(context.Background(), "resolve", nil)
	g.Expect(err).To(HaveOccurred())
	var clusterErr *gateway.ClusterError
	g.Expect(errors.As(err, &clusterErr)).To(BeTrue())

	// Nothing to tear down: the run ends with create as the only call.
	g.Expect(r.Shutdown(context.Background())).To(Succeed())
	g.Expect(srv.Calls()).To(Equal([]string{"create"}))
}

func TestClusterRunner_SubmitAfterShutdown(t *testing.T) {
	g := NewWithT(t)
	r, _ := newRunner(t)

	g.Expect(r.Shutdown(context.Background())).To(Succeed())
	g.Expect(r.Start(context.Background())).To(MatchError(runner.ErrRunnerClosed))

	_, err := r.Submit(context.Background(), "resolve", nil)
	g.Expect(err).To(MatchError(runner.ErrRunnerClosed))

	// Shutdown is idempotent.
	g.Expect(r.Shutdown(context.Background())).To(Succeed())
}

func TestClusterRunner_TeardownFailureIsLoggedNotReturned(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t)
	srv.FailClusterDelete(true)

	_, err := r.Submit(context.Background(), "resolve", nil)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(r.Shutdown(context.Background())).To(Succeed())
	g.Expect(srv.Calls()).To(Equal([]string{"create", "delete"}))
}

func TestClusterRunner_Duplicate(t *testing.T) {
	g := NewWithT(t)
	r, srv := newRunner(t, runner.WithAdaptive(1, 5))

	_, err := r.Submit(context.Background(), "resolve", nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.Shutdown(context.Background())).To(Succeed())

	// The duplicate starts a fresh state machine and owns its own
	// cluster.
	dup := r.Duplicate()
	g.Expect(dup.Start(context.Background())).To(Succeed())

	_, err = dup.Submit(context.Background(), "resolve", nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(dup.Shutdown(context.Background())).To(Succeed())

	g.Expect(srv.Calls()).To(Equal([]string{"create", "adapt", "delete", "create", "adapt", "delete"}))
}

func listClusterNames(srv *gatewaytestserver.GatewayServer) ([]string, error) {
	gw, err := gateway.New("hub-token", gateway.WithAddress(srv.URL()))
	if err != nil {
		return nil, err
	}
	reports, err := gw.ListClusters(context.Background())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(reports))
	for _, r := range reports {
		names = append(names, r.Name)
	}
	return names, nil
}
