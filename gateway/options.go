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

import "fmt"

// DefaultImage is the worker image used when none is configured.
const DefaultImage = "pangeo/pangeo-notebook:latest"

// Bounds accepted by the gateway for the worker resource shape.
const (
	minWorkerCores     = 0.1
	maxWorkerCores     = 8
	minWorkerMemoryGiB = 1
	maxWorkerMemoryGiB = 64
)

// ClusterOptions describes the worker pool requested from the gateway.
// The zero value requests the gateway defaults. Unknown settings can
// be passed through opaquely via Extra.
type ClusterOptions struct {
	// Image is the container image run by the workers.
	Image string

	// WorkerCores is the number of cores per worker, in the 0.1-8
	// range. Zero requests the gateway default.
	WorkerCores float64

	// WorkerMemoryGiB is the amount of memory per worker in GiB, in
	// the 1-64 range. Zero requests the gateway default.
	WorkerMemoryGiB float64

	// GPU requests GPU workers.
	GPU bool

	// Environment sets environment variables on the workers.
	Environment map[string]string

	// Extra is passed through to the gateway unvalidated, for options
	// this struct has no field for.
	Extra map[string]any
}

// Validate checks the known fields against the gateway's accepted
// bounds. Extra options are not validated.
func (o ClusterOptions) Validate() error {
	if o.WorkerCores != 0 && (o.WorkerCores < minWorkerCores || o.WorkerCores > maxWorkerCores) {
		return fmt.Errorf("worker cores must be in the %v-%v range, got %v",
			minWorkerCores, maxWorkerCores, o.WorkerCores)
	}
	if o.WorkerMemoryGiB != 0 && (o.WorkerMemoryGiB < minWorkerMemoryGiB || o.WorkerMemoryGiB > maxWorkerMemoryGiB) {
		return fmt.Errorf("worker memory must be in the %v-%v GiB range, got %v",
			minWorkerMemoryGiB, maxWorkerMemoryGiB, o.WorkerMemoryGiB)
	}
	return nil
}

// payload flattens the options into the gateway's wire format. Known
// fields win over Extra entries of the same name.
func (o ClusterOptions) payload() map[string]any {
	p := make(map[string]any, len(o.Extra)+5)
	for k, v := range o.Extra {
		p[k] = v
	}
	if o.Image != "" {
		p["image"] = o.Image
	}
	if o.WorkerCores != 0 {
		p["worker_cores"] = o.WorkerCores
	}
	if o.WorkerMemoryGiB != 0 {
		p["worker_memory"] = o.WorkerMemoryGiB
	}
	if o.GPU {
		p["gpu"] = true
	}
	if o.Environment != nil {
		p["environment"] = o.Environment
	}
	return p
}

// AdaptOptions configures adaptive scaling of a cluster between a
// minimum and maximum worker count.
type AdaptOptions struct {
	Minimum int
	Maximum int
	// Active enables adaptive scaling. An inactive request disables it.
	Active bool
}

func (o AdaptOptions) Validate() error {
	if o.Minimum < 0 {
		return fmt.Errorf("minimum worker count must not be negative, got %d", o.Minimum)
	}
	if o.Maximum < o.Minimum {
		return fmt.Errorf("maximum worker count %d must not be below minimum %d",
			o.Maximum, o.Minimum)
	}
	return nil
}
