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

package report_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/elastic/apm-web-telemetry/collector"
	"github.com/elastic/apm-web-telemetry/metricstore"
	"github.com/elastic/apm-web-telemetry/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

func newGenerator(t *testing.T, store *metricstore.Store, opts ...report.Option) *report.Generator {
	t.Helper()
	opts = append([]report.Option{report.WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	g, err := report.NewGenerator(store, opts...)
	require.NoError(t, err)
	return g
}

func TestNewGenerator(t *testing.T) {
	_, err := report.NewGenerator(metricstore.New())
	require.Error(t, err)
	_, err = report.NewGenerator(nil, report.WithLogger(zaptest.NewLogger(t).Sugar()))
	require.Error(t, err)
}

func TestGenerateEmptyStore(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, time.June, 5, 8, 30, 0, 123e6, time.UTC))
	g := newGenerator(t, metricstore.New(),
		report.WithClock(mock),
		report.WithEnvironment(report.Environment{UserAgent: "Mozilla/5.0", URL: "https://tts.example/"}),
	)

	r := g.Generate()
	assert.Nil(t, r.CoreWebVitals.FCP)
	assert.Nil(t, r.Memory.HeapUsed)
	assert.Zero(t, r.Performance.LongTasks)

	b, err := json.Marshal(&r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"timestamp": "2024-06-05T08:30:00.123Z",
		"coreWebVitals": {},
		"performance": {"longTasks": 0},
		"memory": {},
		"userAgent": "Mozilla/5.0",
		"url": "https://tts.example/"
	}`, string(b))
}

func TestGenerateGroups(t *testing.T) {
	store := metricstore.New()
	store.Record(collector.FCP, 1200)
	store.Record(collector.CLS, 0.01)
	store.Record(collector.CLS, 0.03)
	store.Record(collector.LoadComplete, 2100)
	store.Record(collector.LongTaskMetric, 60)
	store.Record(collector.LongTaskMetric, 80)
	store.Record(collector.LongTaskMetric, 70)
	store.Record(collector.JSHeapUsedPct, 42)
	store.Record("DNS_LOOKUP", 12)

	r := newGenerator(t, store).Generate()
	require.NotNil(t, r.CoreWebVitals.FCP)
	assert.Equal(t, 1200.0, r.CoreWebVitals.FCP.Current)
	require.NotNil(t, r.CoreWebVitals.CLS)
	assert.Equal(t, 2, r.CoreWebVitals.CLS.Count)
	assert.Nil(t, r.CoreWebVitals.LCP)
	assert.Equal(t, 3, r.Performance.LongTasks)
	assert.Nil(t, r.Performance.DOMProcessing)
	assert.Nil(t, r.Memory.HeapUsed)

	b, err := json.Marshal(&r)
	require.NoError(t, err)
	doc := gjson.ParseBytes(b)
	assert.InDelta(t, 0.02, doc.Get("coreWebVitals.CLS.average").Float(), 1e-9)
	assert.Equal(t, 0.03, doc.Get("coreWebVitals.CLS.max").Float())
	assert.False(t, doc.Get("coreWebVitals.LCP").Exists())
	assert.Equal(t, int64(2100), doc.Get("performance.loadTime.current").Int())
	assert.Equal(t, int64(3), doc.Get("performance.longTasks").Int())
	assert.Equal(t, 42.0, doc.Get("memory.heapUsedPercent.current").Float())
	assert.False(t, doc.Get("DNS_LOOKUP").Exists())
}

func TestGenerateIsPure(t *testing.T) {
	store := metricstore.New()
	for i := 0; i < 5; i++ {
		store.Record(collector.LCP, float64(1000+i))
		store.Record(collector.JSHeapSize, float64(1<<20*i))
	}
	mock := clock.NewMock()
	g := newGenerator(t, store, report.WithClock(mock))

	first := g.Generate()
	mock.Add(time.Minute)
	second := g.Generate()

	assert.NotEqual(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, first.CoreWebVitals, second.CoreWebVitals)
	assert.Equal(t, first.Performance, second.Performance)
	assert.Equal(t, first.Memory, second.Memory)

	sum, _ := store.Summarize(collector.LCP)
	assert.Equal(t, 5, sum.Count)
}

func TestEnvironmentFunc(t *testing.T) {
	calls := 0
	g := newGenerator(t, metricstore.New(), report.WithEnvironmentFunc(func() report.Environment {
		calls++
		return report.Environment{URL: fmt.Sprintf("https://tts.example/%d", calls)}
	}))
	assert.Equal(t, "https://tts.example/1", g.Generate().URL)
	assert.Equal(t, "https://tts.example/2", g.Generate().URL)
}
