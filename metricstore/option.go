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

package metricstore

import "github.com/benbjohnson/clock"

type Option func(*Store)

// WithRetentionLimit sets the maximum number of samples kept per
// series. Values lower than 1 fall back to DefaultRetentionLimit.
func WithRetentionLimit(n int) Option {
	return func(s *Store) {
		s.retentionLimit = n
	}
}

// WithClock sets the clock used to timestamp samples.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}
