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
	"math"
	"strings"
)

// Metric names written by the collector.
const (
	FCP               = "FCP"
	LCP               = "LCP"
	CLS               = "CLS"
	FID               = "FID"
	DNSLookup         = "DNS_LOOKUP"
	TCPConnect        = "TCP_CONNECT"
	TLSHandshake      = "TLS_HANDSHAKE"
	TTFB              = "TTFB"
	Download          = "DOWNLOAD"
	DOMProcessing     = "DOM_PROCESSING"
	LoadComplete      = "LOAD_COMPLETE"
	LongTaskMetric    = "LONG_TASK"
	JSHeapSize        = "JS_HEAP_SIZE"
	JSHeapLimit       = "JS_HEAP_LIMIT"
	JSHeapUsedPct     = "JS_HEAP_USED_PCT"
	SliderInteraction = "SLIDER_INTERACTION"

	measurePrefix        = "MEASURE_"
	firstContentfulPaint = "first-contentful-paint"
	speechSynthesis      = "speech-synthesis"
	longTaskWarnMs       = 100
)

// DefaultThresholds returns the warning thresholds for the metrics with a
// known "good" upper bound.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		FCP:            1800,
		LCP:            2500,
		CLS:            0.1,
		FID:            100,
		LongTaskMetric: 50,
		JSHeapUsedPct:  80,
	}
}

// MeasureName returns the metric name under which a named platform
// measure is recorded.
func MeasureName(name string) string {
	return measurePrefix + strings.ToUpper(name)
}

// OnTimingEvent maps a timing entry of the given category to metric writes.
func (c *Collector) OnTimingEvent(category Category, e Entry) {
	switch category {
	case Navigation:
		nav := e.Navigation
		if nav == nil {
			c.logger.Debug("Navigation entry without timing, ignoring")
			return
		}
		// No secure connection means no handshake time, as long as the
		// connection phase itself was reported.
		tls := nav.ConnectEnd - nav.SecureConnectionStart
		if (math.IsNaN(nav.SecureConnectionStart) || nav.SecureConnectionStart <= 0) && valid(nav.ConnectEnd) {
			tls = 0
		}
		c.record(DNSLookup, nav.DomainLookupEnd-nav.DomainLookupStart)
		c.record(TCPConnect, nav.ConnectEnd-nav.ConnectStart)
		c.record(TLSHandshake, tls)
		c.record(TTFB, nav.ResponseStart-nav.RequestStart)
		c.record(Download, nav.ResponseEnd-nav.ResponseStart)
		c.record(DOMProcessing, nav.DomComplete-nav.DomLoading)
		c.record(LoadComplete, nav.LoadEventEnd-nav.NavigationStart)
	case Paint:
		if e.Name == firstContentfulPaint {
			c.record(FCP, e.StartTime)
		}
	case LargestContentfulPaint:
		c.record(LCP, e.StartTime)
	case LayoutShift:
		if e.HadRecentInput {
			return
		}
		if !valid(e.Value) {
			c.logger.Warnf("Dropping invalid layout shift value %v", e.Value)
			return
		}
		// CLS is a running sum: every qualifying shift records the new
		// total.
		c.mu.Lock()
		c.cls += e.Value
		total := c.cls
		c.mu.Unlock()
		c.record(CLS, total)
	case FirstInput:
		c.record(FID, e.ProcessingStart-e.StartTime)
	case LongTask:
		c.record(LongTaskMetric, e.Duration)
		if e.Duration > longTaskWarnMs {
			c.logger.Warnf("Long task detected: %vms", e.Duration)
		}
	case Measure:
		if e.Name == "" {
			c.logger.Debug("Measure entry without name, ignoring")
			return
		}
		c.record(MeasureName(e.Name), e.Duration)
	default:
		c.logger.Debugf("Ignoring %s timing entry", category)
	}
}

// OnInteractionEvent handles a user or session event. Interactions that
// bracket a duration start or end a measurement named after kind and id.
func (c *Collector) OnInteractionEvent(kind, id string) {
	switch kind {
	case "click":
		if id == "" {
			id = "unknown"
		}
		c.StartMeasure("click-" + id)
	case "input":
		if id == "range" {
			c.mu.Lock()
			since := c.clock.Since(c.started)
			c.mu.Unlock()
			c.record(SliderInteraction, millis(since.Nanoseconds()))
		}
	case "speechstart":
		c.StartMeasure(speechSynthesis)
	case "speechend":
		c.EndMeasure(speechSynthesis)
	case "visibilitychange":
		// The final LCP is the last one observed while visible.
		if id == "hidden" {
			c.unsubscribe(LargestContentfulPaint)
		}
	default:
		switch {
		case strings.HasSuffix(kind, "-start"):
			c.StartMeasure(measureKey(strings.TrimSuffix(kind, "-start"), id))
		case strings.HasSuffix(kind, "-end"):
			c.EndMeasure(measureKey(strings.TrimSuffix(kind, "-end"), id))
		default:
			c.logger.Debugf("Ignoring interaction %q", kind)
		}
	}
}

// StartMeasure sets the start marker of the named measurement to now.
func (c *Collector) StartMeasure(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[name] = c.clock.Now()
}

// EndMeasure records the milliseconds elapsed since the matching
// StartMeasure under name. Without a start marker nothing is recorded.
func (c *Collector) EndMeasure(name string) {
	c.mu.Lock()
	start, ok := c.marks[name]
	delete(c.marks, name)
	now := c.clock.Now()
	c.mu.Unlock()

	if !ok {
		c.logger.Warnf("Failed to measure %s: no start mark", name)
		return
	}
	c.record(name, millis(now.Sub(start).Nanoseconds()))
}

// RecordMark records a duration reported for a named mark by another
// context, such as the caching gateway.
func (c *Collector) RecordMark(name string, durationMs float64) {
	c.record(MeasureName(name), durationMs)
}

// CheckThreshold logs a warning when value exceeds the threshold
// configured for name. It reports whether the threshold was exceeded.
func (c *Collector) CheckThreshold(name string, value float64) bool {
	limit, ok := c.thresholds[name]
	if !ok || value <= limit {
		return false
	}
	c.logger.Warnf("Performance threshold exceeded: %s = %v", name, value)
	return true
}

func (c *Collector) record(name string, value float64) {
	if !valid(value) {
		c.logger.Warnf("Dropping invalid value %v for %s", value, name)
		return
	}
	c.store.Record(name, value)
	c.CheckThreshold(name, value)
}

func measureKey(kind, id string) string {
	if id == "" {
		return kind
	}
	return kind + "-" + id
}

func millis(ns int64) float64 {
	return float64(ns) / 1e6
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
