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
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/elastic/apm-web-telemetry/collector"
	"github.com/elastic/apm-web-telemetry/metricstore"
	"go.uber.org/zap"
)

// Environment describes the monitored page.
type Environment struct {
	UserAgent string
	URL       string
}

// Generator snapshots a metric store into reports.
type Generator struct {
	store  *metricstore.Store
	env    func() Environment
	clock  clock.Clock
	logger *zap.SugaredLogger
}

type Option func(*Generator)

// WithEnvironment sets a fixed environment context.
func WithEnvironment(env Environment) Option {
	return func(g *Generator) {
		g.env = func() Environment { return env }
	}
}

// WithEnvironmentFunc sets a function called on every generation to
// obtain the current environment context.
func WithEnvironmentFunc(fn func() Environment) Option {
	return func(g *Generator) {
		g.env = fn
	}
}

func WithClock(c clock.Clock) Option {
	return func(g *Generator) {
		g.clock = c
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// NewGenerator returns a Generator reading from store.
func NewGenerator(store *metricstore.Store, opts ...Option) (*Generator, error) {
	g := &Generator{
		store: store,
		env:   func() Environment { return Environment{} },
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		return nil, errors.New("metric store cannot be empty")
	}
	if g.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}
	return g, nil
}

// Generate builds a report from the current store contents. It never
// modifies the store.
func (g *Generator) Generate() Report {
	env := g.env()
	r := Report{
		Timestamp: g.clock.Now(),
		CoreWebVitals: CoreWebVitals{
			FCP: g.summary(collector.FCP),
			LCP: g.summary(collector.LCP),
			CLS: g.summary(collector.CLS),
			FID: g.summary(collector.FID),
		},
		Performance: Performance{
			LoadTime:      g.summary(collector.LoadComplete),
			DOMProcessing: g.summary(collector.DOMProcessing),
		},
		Memory: Memory{
			HeapUsed:        g.summary(collector.JSHeapSize),
			HeapUsedPercent: g.summary(collector.JSHeapUsedPct),
		},
		UserAgent: env.UserAgent,
		URL:       env.URL,
	}
	if lt := g.summary(collector.LongTaskMetric); lt != nil {
		r.Performance.LongTasks = lt.Count
	}

	g.logger.Debugw("Performance report",
		"fcp", current(r.CoreWebVitals.FCP),
		"lcp", current(r.CoreWebVitals.LCP),
		"cls", current(r.CoreWebVitals.CLS),
		"fid", current(r.CoreWebVitals.FID),
		"long_tasks", r.Performance.LongTasks,
	)
	return r
}

func (g *Generator) summary(name string) *metricstore.Summary {
	s, ok := g.store.Summarize(name)
	if !ok {
		return nil
	}
	return &s
}

func current(s *metricstore.Summary) interface{} {
	if s == nil {
		return nil
	}
	return s.Current
}
