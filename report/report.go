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

package report

import (
	"time"

	"github.com/elastic/apm-web-telemetry/metricstore"
	"go.elastic.co/fastjson"
)

// TimestampFormat is the ISO-8601 layout of Report.Timestamp on the wire.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// CoreWebVitals groups the user-centric loading, interactivity and visual
// stability metrics.
type CoreWebVitals struct {
	FCP *metricstore.Summary
	LCP *metricstore.Summary
	CLS *metricstore.Summary
	FID *metricstore.Summary
}

// Performance groups page load phase metrics.
type Performance struct {
	LoadTime      *metricstore.Summary
	DOMProcessing *metricstore.Summary
	// LongTasks is the number of retained long task samples.
	LongTasks int
}

// Memory groups heap usage metrics.
type Memory struct {
	HeapUsed        *metricstore.Summary
	HeapUsedPercent *metricstore.Summary
}

// Report is a point-in-time snapshot of the metric store. A nil summary
// means the metric has no data and is left out of the encoded document.
type Report struct {
	Timestamp     time.Time
	CoreWebVitals CoreWebVitals
	Performance   Performance
	Memory        Memory
	UserAgent     string
	URL           string
}

// MarshalFastJSON writes the report wire document.
func (r *Report) MarshalFastJSON(w *fastjson.Writer) error {
	w.RawString(`{"timestamp":`)
	w.String(r.Timestamp.UTC().Format(TimestampFormat))

	w.RawString(`,"coreWebVitals":{`)
	first := true
	writeSummary(w, &first, "FCP", r.CoreWebVitals.FCP)
	writeSummary(w, &first, "LCP", r.CoreWebVitals.LCP)
	writeSummary(w, &first, "CLS", r.CoreWebVitals.CLS)
	writeSummary(w, &first, "FID", r.CoreWebVitals.FID)
	w.RawByte('}')

	w.RawString(`,"performance":{`)
	first = true
	writeSummary(w, &first, "loadTime", r.Performance.LoadTime)
	writeSummary(w, &first, "domProcessing", r.Performance.DOMProcessing)
	if !first {
		w.RawByte(',')
	}
	w.RawString(`"longTasks":`)
	w.Int64(int64(r.Performance.LongTasks))
	w.RawByte('}')

	w.RawString(`,"memory":{`)
	first = true
	writeSummary(w, &first, "heapUsed", r.Memory.HeapUsed)
	writeSummary(w, &first, "heapUsedPercent", r.Memory.HeapUsedPercent)
	w.RawByte('}')

	w.RawString(`,"userAgent":`)
	w.String(r.UserAgent)
	w.RawString(`,"url":`)
	w.String(r.URL)
	w.RawByte('}')
	return nil
}

// MarshalJSON implements json.Marshaler using the fastjson encoding.
func (r *Report) MarshalJSON() ([]byte, error) {
	var w fastjson.Writer
	if err := r.MarshalFastJSON(&w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func writeSummary(w *fastjson.Writer, first *bool, name string, s *metricstore.Summary) {
	if s == nil {
		return
	}
	if !*first {
		w.RawByte(',')
	}
	*first = false
	w.String(name)
	w.RawString(`:{"current":`)
	w.Float64(s.Current)
	w.RawString(`,"average":`)
	w.Float64(s.Average)
	w.RawString(`,"min":`)
	w.Float64(s.Min)
	w.RawString(`,"max":`)
	w.Float64(s.Max)
	w.RawString(`,"count":`)
	w.Int64(int64(s.Count))
	w.RawByte('}')
}
