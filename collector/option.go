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

package collector

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type Option func(*Collector)

// WithLogger configures the zap logger used for diagnostics.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithSignalSource sets the platform the collector subscribes to.
func WithSignalSource(src SignalSource) Option {
	return func(c *Collector) {
		c.source = src
	}
}

// WithHeapSampler enables periodic memory sampling.
func WithHeapSampler(h HeapSampler) Option {
	return func(c *Collector) {
		c.heap = h
	}
}

// WithHeapSampleInterval sets the period between two heap samples.
func WithHeapSampleInterval(d time.Duration) Option {
	return func(c *Collector) {
		c.heapInterval = d
	}
}

// WithClock sets the clock used for measurements and timers.
func WithClock(cl clock.Clock) Option {
	return func(c *Collector) {
		c.clock = cl
	}
}

// WithThresholds replaces the warning threshold table.
func WithThresholds(t map[string]float64) Option {
	return func(c *Collector) {
		c.thresholds = t
	}
}
