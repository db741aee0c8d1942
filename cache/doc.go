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

// Package cache provides a thread-safe cache for the short-lived tokens
// handed out by the platform: the SAS tokens minted by the catalog's
// signing endpoint and the access tokens minted by the compute gateway.
package cache
