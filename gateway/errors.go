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
	"errors"
	"fmt"
)

// ErrNoHubToken is returned when a Gateway is constructed without a
// hub API token.
var ErrNoHubToken = errors.New("no hub API token provided")

// ErrInvalidHubToken is returned when the gateway rejects the hub API
// token outright. The exchange is not retried.
var ErrInvalidHubToken = errors.New("hub API token rejected by the gateway")

// ErrClusterClosed is returned when a closed cluster session is used.
// A closed session must never be reused; create a new one instead.
var ErrClusterClosed = errors.New("cluster session is closed")

// AuthError is returned when the bounded access-token exchange attempts
// are exhausted without obtaining a valid token.
type AuthError struct {
	// Attempts is the number of exchange attempts made.
	Attempts int
	// Err is the error returned by the last attempt.
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed after %d token exchange attempts: %s",
		e.Attempts, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// transientAuthError marks an exchange failure that may succeed on a
// further attempt, i.e. the gateway reported the access token expired
// or invalid rather than rejecting the hub token itself.
type transientAuthError struct {
	status string
}

func (e *transientAuthError) Error() string {
	return fmt.Sprintf("access token rejected by the gateway: %s", e.status)
}

// ClusterError is returned when a remote cluster operation fails.
type ClusterError struct {
	// Op is the failed operation, e.g. "create", "scale", "stop".
	Op string
	// Name is the cluster name, empty when creation failed before a
	// name was assigned.
	Name string
	// Err is the underlying error.
	Err error
}

func (e *ClusterError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("cluster %s failed: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("cluster %s failed for %q: %s", e.Op, e.Name, e.Err)
}

func (e *ClusterError) Unwrap() error {
	return e.Err
}

// JobError is returned when a submitted job fails remotely.
type JobError struct {
	// JobID is the gateway-assigned job identifier.
	JobID string
	// Message is the failure reported by the cluster.
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %q failed: %s", e.JobID, e.Message)
}
