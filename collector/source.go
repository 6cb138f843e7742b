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
	"errors"
	"sync"
)

// Category identifies a family of platform signals.
type Category string

const (
	Navigation             Category = "navigation"
	Paint                  Category = "paint"
	LargestContentfulPaint Category = "largest-contentful-paint"
	LayoutShift            Category = "layout-shift"
	FirstInput             Category = "first-input"
	LongTask               Category = "longtask"
	Measure                Category = "measure"
	// Interaction carries user and session events (click, input,
	// speechstart, visibilitychange...) rather than timing entries.
	Interaction Category = "interaction"
)

// Categories lists every category in the order subscriptions are installed.
var Categories = []Category{
	Navigation,
	Measure,
	LongTask,
	Paint,
	LargestContentfulPaint,
	LayoutShift,
	FirstInput,
	Interaction,
}

// ErrCapabilityAbsent is returned by a SignalSource that cannot provide
// the requested category.
var ErrCapabilityAbsent = errors.New("signal capability absent")

// NavigationTiming holds the page-load phase timestamps of a navigation
// entry, in milliseconds relative to the time origin.
type NavigationTiming struct {
	NavigationStart       float64 `json:"navigationStart"`
	DomainLookupStart     float64 `json:"domainLookupStart"`
	DomainLookupEnd       float64 `json:"domainLookupEnd"`
	ConnectStart          float64 `json:"connectStart"`
	ConnectEnd            float64 `json:"connectEnd"`
	SecureConnectionStart float64 `json:"secureConnectionStart"`
	RequestStart          float64 `json:"requestStart"`
	ResponseStart         float64 `json:"responseStart"`
	ResponseEnd           float64 `json:"responseEnd"`
	DomLoading            float64 `json:"domLoading"`
	DomComplete           float64 `json:"domComplete"`
	LoadEventEnd          float64 `json:"loadEventEnd"`
}

// Entry is one timestamped signal delivered by a SignalSource. Only the
// fields relevant to the entry's category are set. Sources decoding
// external input set numeric fields they did not receive to NaN, and any
// metric derived from such a field is dropped.
type Entry struct {
	Name            string
	StartTime       float64
	Duration        float64
	Value           float64
	ProcessingStart float64
	HadRecentInput  bool
	Navigation      *NavigationTiming

	// Kind and ID describe Interaction entries.
	Kind string
	ID   string
}

// Handler receives the entries observed in one platform callback.
type Handler func(entries []Entry)

// Subscription is an installed handler.
type Subscription interface {
	Unsubscribe()
}

// SignalSource abstracts the platform's per-category event subscription.
type SignalSource interface {
	// Subscribe installs fn for category. It returns ErrCapabilityAbsent
	// when the platform does not expose the category.
	Subscribe(category Category, fn Handler) (Subscription, error)
}

// StaticSource is an in-process SignalSource that delivers entries passed
// to Emit. It is used by tests and by hosts that push entries directly.
type StaticSource struct {
	mu        sync.RWMutex
	supported map[Category]bool
	handlers  map[Category]map[int]Handler
	nextID    int
}

// NewStaticSource returns a source supporting the given categories, or
// every category when none is given.
func NewStaticSource(categories ...Category) *StaticSource {
	if len(categories) == 0 {
		categories = Categories
	}
	s := &StaticSource{
		supported: make(map[Category]bool, len(categories)),
		handlers:  make(map[Category]map[int]Handler),
	}
	for _, c := range categories {
		s.supported[c] = true
	}
	return s
}

func (s *StaticSource) Subscribe(category Category, fn Handler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.supported[category] {
		return nil, ErrCapabilityAbsent
	}
	if s.handlers[category] == nil {
		s.handlers[category] = make(map[int]Handler)
	}
	s.nextID++
	id := s.nextID
	s.handlers[category][id] = fn
	return &staticSubscription{source: s, category: category, id: id}, nil
}

// Emit delivers entries to every handler subscribed to category. It
// reports whether at least one handler received them.
func (s *StaticSource) Emit(category Category, entries ...Entry) bool {
	s.mu.RLock()
	fns := make([]Handler, 0, len(s.handlers[category]))
	for _, fn := range s.handlers[category] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	// Handlers may unsubscribe themselves, so they run without the lock.
	for _, fn := range fns {
		fn(entries)
	}
	return len(fns) > 0
}

// Subscribed reports whether any handler is installed for category.
func (s *StaticSource) Subscribed(category Category) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[category]) > 0
}

type staticSubscription struct {
	source   *StaticSource
	category Category
	id       int
}

func (ss *staticSubscription) Unsubscribe() {
	ss.source.mu.Lock()
	defer ss.source.mu.Unlock()
	delete(ss.source.handlers[ss.category], ss.id)
}
