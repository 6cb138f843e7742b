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
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCreatesSeries(t *testing.T) {
	s := New()
	_, ok := s.Summarize("FCP")
	require.False(t, ok)

	s.Record("FCP", 1200)
	sum, ok := s.Summarize("FCP")
	require.True(t, ok)
	assert.Equal(t, Summary{Current: 1200, Average: 1200, Min: 1200, Max: 1200, Count: 1}, sum)
	assert.Equal(t, []string{"FCP"}, s.Names())
}

func TestSummarizeCountAndCurrent(t *testing.T) {
	for _, calls := range []int{1, 5, 99, 100, 101, 250} {
		s := New()
		for i := 1; i <= calls; i++ {
			s.Record("LONG_TASK", float64(i))
		}
		sum, ok := s.Summarize("LONG_TASK")
		require.True(t, ok)
		assert.Equal(t, min(calls, DefaultRetentionLimit), sum.Count)
		assert.Equal(t, float64(calls), sum.Current)
	}
}

func TestEvictionKeepsLastWindow(t *testing.T) {
	s := New(WithRetentionLimit(3))
	for _, v := range []float64{100, 1, 2, 3, 50} {
		s.Record("TTFB", v)
	}

	sum, ok := s.Summarize("TTFB")
	require.True(t, ok)
	// Only 2, 3 and 50 survive: the 100 and 1 were evicted.
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 50.0, sum.Current)
	assert.Equal(t, 2.0, sum.Min)
	assert.Equal(t, 50.0, sum.Max)
	assert.InDelta(t, 55.0/3, sum.Average, 1e-9)

	samples := s.Samples("TTFB")
	require.Len(t, samples, 3)
	assert.Equal(t, 2.0, samples[0].Value)
	assert.Equal(t, 50.0, samples[2].Value)
}

func TestSummarizeUnknownOrEmpty(t *testing.T) {
	s := New()
	sum, ok := s.Summarize("nope")
	assert.False(t, ok)
	assert.Zero(t, sum)
	assert.Nil(t, s.Samples("nope"))
	assert.Empty(t, s.Summaries())
}

func TestTimestampsFromClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC))
	s := New(WithClock(mock))

	s.Record("CLS", 0.01)
	mock.Add(1500 * time.Millisecond)
	s.Record("CLS", 0.02)

	samples := s.Samples("CLS")
	require.Len(t, samples, 2)
	assert.Equal(t, int64(1500), samples[1].Timestamp-samples[0].Timestamp)
	assert.Equal(t, mock.Now().UnixMilli(), samples[1].Timestamp)
}

func TestReset(t *testing.T) {
	s := New()
	s.Record("FCP", 1)
	s.Record("LCP", 2)
	require.Len(t, s.Summaries(), 2)

	s.Reset()
	assert.Empty(t, s.Names())
	_, ok := s.Summarize("FCP")
	assert.False(t, ok)
}

func TestInvalidRetentionFallsBack(t *testing.T) {
	assert.Equal(t, DefaultRetentionLimit, New(WithRetentionLimit(0)).RetentionLimit())
	assert.Equal(t, 7, New(WithRetentionLimit(7)).RetentionLimit())
}
