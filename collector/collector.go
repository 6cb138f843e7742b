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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/elastic/apm-web-telemetry/metricstore"
	"go.uber.org/zap"
)

const defaultHeapSampleInterval = 10 * time.Second

// Collector turns platform signals into metric store writes.
type Collector struct {
	store        *metricstore.Store
	source       SignalSource
	heap         HeapSampler
	logger       *zap.SugaredLogger
	clock        clock.Clock
	heapInterval time.Duration
	thresholds   map[string]float64

	mu      sync.Mutex
	marks   map[string]time.Time
	cls     float64
	subs    map[Category]Subscription
	started time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Collector writing to store.
func New(store *metricstore.Store, opts ...Option) (*Collector, error) {
	c := &Collector{
		store:        store,
		clock:        clock.New(),
		heapInterval: defaultHeapSampleInterval,
		thresholds:   DefaultThresholds(),
		marks:        make(map[string]time.Time),
		subs:         make(map[Category]Subscription),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		return nil, errors.New("metric store cannot be empty")
	}
	if c.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}
	if c.heapInterval <= 0 {
		c.heapInterval = defaultHeapSampleInterval
	}
	return c, nil
}

// Start installs the platform subscriptions and starts the heap sampler.
// Categories the platform does not expose are skipped.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	c.started = c.clock.Now()
	c.mu.Unlock()

	if c.source == nil {
		c.logger.Warn("Performance monitoring not available: no signal source")
	} else {
		for _, cat := range Categories {
			c.subscribe(cat)
		}
	}

	if c.heap == nil {
		return
	}
	// A sampler that fails on the first read is treated as an absent
	// capability.
	if err := c.sampleHeap(); err != nil {
		c.logger.Warnf("Memory sampling not available: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	ticker := c.clock.Ticker(c.heapInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.sampleHeap(); err != nil {
					c.logger.Warnf("Failed to sample memory usage: %v", err)
				}
			}
		}
	}()
}

// Stop removes every subscription, stops the heap sampler and forgets
// pending measurements. It does not touch the metric store.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	subs := c.subs
	c.subs = make(map[Category]Subscription)
	c.marks = make(map[string]time.Time)
	c.cls = 0
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Subscribed reports whether the collector currently listens to category.
func (c *Collector) Subscribed(category Category) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[category]
	return ok
}

func (c *Collector) subscribe(cat Category) {
	sub, err := c.source.Subscribe(cat, c.handlerFor(cat))
	if err != nil {
		if errors.Is(err, ErrCapabilityAbsent) {
			c.logger.Warnf("%s signals not available, skipping", cat)
		} else {
			c.logger.Warnf("Failed to subscribe to %s signals: %v", cat, err)
		}
		return
	}
	c.mu.Lock()
	c.subs[cat] = sub
	c.mu.Unlock()
}

func (c *Collector) unsubscribe(cat Category) {
	c.mu.Lock()
	sub, ok := c.subs[cat]
	delete(c.subs, cat)
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

func (c *Collector) handlerFor(cat Category) Handler {
	switch cat {
	case Paint:
		return func(entries []Entry) {
			for _, e := range entries {
				if e.Name == firstContentfulPaint {
					c.OnTimingEvent(cat, e)
					c.unsubscribe(cat)
					return
				}
			}
		}
	case LargestContentfulPaint:
		// Only the latest candidate of a batch matters.
		return func(entries []Entry) {
			if len(entries) > 0 {
				c.OnTimingEvent(cat, entries[len(entries)-1])
			}
		}
	case FirstInput:
		return func(entries []Entry) {
			if len(entries) > 0 {
				c.OnTimingEvent(cat, entries[0])
				c.unsubscribe(cat)
			}
		}
	case Interaction:
		return func(entries []Entry) {
			for _, e := range entries {
				c.OnInteractionEvent(e.Kind, e.ID)
			}
		}
	default:
		return func(entries []Entry) {
			for _, e := range entries {
				c.OnTimingEvent(cat, e)
			}
		}
	}
}

func (c *Collector) sampleHeap() error {
	stats, err := c.heap.Sample()
	if err != nil {
		return err
	}
	c.record(JSHeapSize, float64(stats.Used))
	c.record(JSHeapLimit, float64(stats.Total))
	if stats.Total > 0 {
		c.record(JSHeapUsedPct, float64(stats.Used)/float64(stats.Total)*100)
	}
	return nil
}
