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

// Package runner adapts the compute gateway to a pluggable
// task-runner contract: units of work submitted during a pipeline run
// share one lazily provisioned cluster, owned and torn down by the
// runner so pipeline authors do not have to.
package runner

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrRunnerClosed is returned when work is submitted to a runner whose
// pipeline run has ended.
var ErrRunnerClosed = errors.New("task runner is closed")

// Future resolves one submitted unit of work. Result blocks the
// caller until the remote cluster returns; units submitted
// concurrently complete in no guaranteed order.
type Future interface {
	Result(ctx context.Context) (json.RawMessage, error)
}

// TaskRunner is the pluggable execution-engine contract: submit units
// of work, possibly concurrently, and await their results, with
// lifecycle hooks for the start and end of a pipeline run.
type TaskRunner interface {
	// Start is called at the start of a pipeline run.
	Start(ctx context.Context) error

	// Submit hands one unit of work to the runner.
	Submit(ctx context.Context, name string, payload map[string]any) (Future, error)

	// Shutdown is called when the run ends, on success, failure or
	// cancellation, and releases the runner's resources.
	Shutdown(ctx context.Context) error
}
