// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package reportsink

// Status is the outcome of the last delivery. It is kept for diagnostics
// only: delivery never backs off or retries based on it.
type Status string

const (
	// Started means no delivery has completed yet.
	Started Status = "Started"

	// Healthy means the last delivery was accepted.
	Healthy Status = "Healthy"

	// Failing means the last delivery failed or was rejected.
	Failing Status = "Failing"
)

// Strategy is the transport used for a single report.
type Strategy string

const (
	// Beacon sends outlive the caller: they run on a context detached from
	// the one passed to Deliver and are bounded only by the sink timeout.
	Beacon Strategy = "beacon"

	// KeepAlive sends are compressed JSON posts bound to the caller context.
	KeepAlive Strategy = "keepalive"
)
