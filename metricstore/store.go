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

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
)

// DefaultRetentionLimit is the number of samples kept per series.
const DefaultRetentionLimit = 100

// Sample is a single recorded value. Timestamp is in milliseconds
// since the Unix epoch.
type Sample struct {
	Value     float64
	Timestamp int64
}

// Summary holds statistics derived from the retained window of a series.
type Summary struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"`
}

// Store is a set of bounded time series keyed by metric name. Samples are
// kept in insertion order and the oldest are evicted first once a series
// exceeds the retention limit. Store is safe for concurrent use.
type Store struct {
	mu             sync.RWMutex
	series         map[string][]Sample
	retentionLimit int
	clock          clock.Clock
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		series:         make(map[string][]Sample),
		retentionLimit: DefaultRetentionLimit,
		clock:          clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retentionLimit < 1 {
		s.retentionLimit = DefaultRetentionLimit
	}
	return s
}

// Record appends value to the named series, creating it if needed.
// Callers are expected to reject NaN and infinite values beforehand.
func (s *Store) Record(name string, value float64) {
	ts := s.clock.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	samples := append(s.series[name], Sample{Value: value, Timestamp: ts})
	if over := len(samples) - s.retentionLimit; over > 0 {
		// Copy down instead of reslicing so the backing array does not
		// keep growing for long-lived series.
		n := copy(samples, samples[over:])
		samples = samples[:n]
	}
	s.series[name] = samples
}

// Summarize computes the summary of the named series. The second return
// value is false when the series does not exist or is empty.
func (s *Store) Summarize(name string) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.series[name])
}

// Summaries returns the summary of every non-empty series.
func (s *Store) Summaries() map[string]Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Summary, len(s.series))
	for name, samples := range s.series {
		if sum, ok := summarize(samples); ok {
			out[name] = sum
		}
	}
	return out
}

// Samples returns a copy of the retained samples for name.
func (s *Store) Samples(name string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples := s.series[name]
	if len(samples) == 0 {
		return nil
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

// Names returns the sorted names of all known series.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset drops every series.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[string][]Sample)
}

// RetentionLimit returns the configured per-series sample limit.
func (s *Store) RetentionLimit() int {
	return s.retentionLimit
}

func summarize(samples []Sample) (Summary, bool) {
	if len(samples) == 0 {
		return Summary{}, false
	}
	sum := Summary{
		Current: samples[len(samples)-1].Value,
		Min:     samples[0].Value,
		Max:     samples[0].Value,
		Count:   len(samples),
	}
	var total float64
	for _, smp := range samples {
		total += smp.Value
		if smp.Value < sum.Min {
			sum.Min = smp.Value
		}
		if smp.Value > sum.Max {
			sum.Max = smp.Value
		}
	}
	sum.Average = total / float64(len(samples))
	return sum, true
}
