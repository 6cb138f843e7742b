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

package signalapi_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/apm-web-telemetry/collector"
	"github.com/elastic/apm-web-telemetry/metricstore"
	"github.com/elastic/apm-web-telemetry/signalapi"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

func newHandler(t *testing.T, opts ...signalapi.Option) *signalapi.Handler {
	t.Helper()
	opts = append([]signalapi.Option{signalapi.WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	h, err := signalapi.New(opts...)
	require.NoError(t, err)
	return h
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type recorder struct {
	mu      sync.Mutex
	batches [][]collector.Entry
}

func (r *recorder) handle(entries []collector.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, entries)
}

func TestNew(t *testing.T) {
	_, err := signalapi.New()
	require.Error(t, err)
}

func TestSubscribeUnsupportedCategory(t *testing.T) {
	h := newHandler(t, signalapi.WithCategories(collector.Paint))
	_, err := h.Subscribe(collector.LayoutShift, func([]collector.Entry) {})
	require.ErrorIs(t, err, collector.ErrCapabilityAbsent)

	sub, err := h.Subscribe(collector.Paint, func([]collector.Entry) {})
	require.NoError(t, err)
	sub.Unsubscribe()
}

func TestServeHTTPRejects(t *testing.T) {
	h := newHandler(t)
	testCases := map[string]string{
		"invalid json": `[{"category":`,
		"scalar":       `42`,
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			rec := post(t, h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signals", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		small := newHandler(t, signalapi.WithMaxBodySize(8))
		rec := post(t, small, `{"category":"paint","name":"first-contentful-paint"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServeHTTPBatches(t *testing.T) {
	h := newHandler(t)
	shifts := &recorder{}
	paints := &recorder{}
	_, err := h.Subscribe(collector.LayoutShift, shifts.handle)
	require.NoError(t, err)
	_, err = h.Subscribe(collector.Paint, paints.handle)
	require.NoError(t, err)

	rec := post(t, h, `[
		{"category":"layout-shift","value":0.01,"hadRecentInput":false},
		{"category":"layout-shift","value":0.02,"hadRecentInput":true},
		{"category":"paint","name":"first-paint","startTime":800},
		{"category":"layout-shift","value":0.03},
		{"name":"no category"},
		{"category":"measure","name":"nobody-listens","duration":3}
	]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(4), gjson.Get(rec.Body.String(), "accepted").Int())
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "dropped").Int())

	require.Len(t, shifts.batches, 2)
	require.Len(t, shifts.batches[0], 2)
	assert.Equal(t, 0.01, shifts.batches[0][0].Value)
	assert.True(t, shifts.batches[0][1].HadRecentInput)
	assert.Equal(t, 0.03, shifts.batches[1][0].Value)

	require.Len(t, paints.batches, 1)
	assert.Equal(t, "first-paint", paints.batches[0][0].Name)
	assert.Equal(t, 800.0, paints.batches[0][0].StartTime)
}

func TestServeHTTPNavigation(t *testing.T) {
	testCases := map[string]string{
		"flat":   `{"category":"navigation","domainLookupStart":5,"domainLookupEnd":25,"loadEventEnd":900}`,
		"nested": `{"category":"navigation","navigation":{"domainLookupStart":5,"domainLookupEnd":25,"loadEventEnd":900}}`,
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			h := newHandler(t)
			nav := &recorder{}
			_, err := h.Subscribe(collector.Navigation, nav.handle)
			require.NoError(t, err)

			require.Equal(t, http.StatusAccepted, post(t, h, body).Code)
			require.Len(t, nav.batches, 1)
			timing := nav.batches[0][0].Navigation
			require.NotNil(t, timing)
			assert.Equal(t, 5.0, timing.DomainLookupStart)
			assert.Equal(t, 25.0, timing.DomainLookupEnd)
			assert.Equal(t, 900.0, timing.LoadEventEnd)
		})
	}
}

func TestServeHTTPGzip(t *testing.T) {
	h := newHandler(t)
	tasks := &recorder{}
	_, err := h.Subscribe(collector.LongTask, tasks.handle)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write([]byte(`[{"category":"longtask","duration":120}]`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/signals", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, tasks.batches, 1)
	assert.Equal(t, 120.0, tasks.batches[0][0].Duration)
}

func TestCollectorIntegration(t *testing.T) {
	h := newHandler(t, signalapi.WithCategories(
		collector.Paint, collector.FirstInput, collector.Interaction, collector.Measure,
	))
	store := metricstore.New()
	c, err := collector.New(store,
		collector.WithLogger(zaptest.NewLogger(t).Sugar()),
		collector.WithSignalSource(h),
	)
	require.NoError(t, err)
	c.Start(context.Background())
	defer c.Stop()

	assert.False(t, c.Subscribed(collector.LayoutShift))

	rec := post(t, h, `[
		{"category":"paint","name":"first-paint","startTime":700},
		{"category":"paint","name":"first-contentful-paint","startTime":950},
		{"category":"first-input","startTime":1000,"processingStart":1030},
		{"category":"measure","name":"tts-request","duration":42},
		{"category":"interaction","kind":"input","id":"range"}
	]`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	fcp, ok := store.Summarize(collector.FCP)
	require.True(t, ok)
	assert.Equal(t, 950.0, fcp.Current)

	fid, ok := store.Summarize(collector.FID)
	require.True(t, ok)
	assert.Equal(t, 30.0, fid.Current)

	measure, ok := store.Summarize("MEASURE_TTS-REQUEST")
	require.True(t, ok)
	assert.Equal(t, 42.0, measure.Current)

	_, ok = store.Summarize(collector.SliderInteraction)
	assert.True(t, ok)

	// Paint and first-input unsubscribe after their first entry.
	rec = post(t, h, `[{"category":"paint","name":"first-contentful-paint","startTime":5000}]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "dropped").Int())
	fcp, _ = store.Summarize(collector.FCP)
	assert.Equal(t, 1, fcp.Count)
}

func TestPage(t *testing.T) {
	h := newHandler(t)
	assert.Equal(t, signalapi.Page{}, h.Page())

	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(`[]`))
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", "https://tts.example/from-referer")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, signalapi.Page{UserAgent: "Mozilla/5.0", URL: "https://tts.example/from-referer"}, h.Page())

	req = httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(`[]`))
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", "https://tts.example/from-referer")
	req.Header.Set(signalapi.PageURLHeader, "https://tts.example/app")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "https://tts.example/app", h.Page().URL)
}

func TestServeHTTPMissingFields(t *testing.T) {
	h := newHandler(t)
	store := metricstore.New()
	c, err := collector.New(store,
		collector.WithLogger(zaptest.NewLogger(t).Sugar()),
		collector.WithSignalSource(h),
	)
	require.NoError(t, err)
	c.Start(context.Background())
	defer c.Stop()

	rec := post(t, h, `[
		{"category":"first-input","startTime":1000},
		{"category":"layout-shift","hadRecentInput":false},
		{"category":"largest-contentful-paint","startTime":"late"},
		{"category":"longtask"},
		{"category":"measure","name":"tts-request"},
		{"category":"paint","name":"first-contentful-paint"},
		{"category":"navigation","loadEventEnd":1200}
	]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, store.Names())

	rec = post(t, h, `[{"category":"longtask","startTime":5,"duration":80}]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{collector.LongTaskMetric}, store.Names())
}

func TestPageKeptOnRejectedRequest(t *testing.T) {
	h := newHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(`[{"category":`))
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set(signalapi.PageURLHeader, "https://tts.example/broken")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, signalapi.Page{}, h.Page())
}
