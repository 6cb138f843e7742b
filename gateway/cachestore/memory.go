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

package cachestore

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the entries of one in-memory generation.
const DefaultCapacity = 512

// Memory keeps each generation in a bounded LRU cache.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	caches   map[string]*memoryCache
}

// NewMemory returns an empty store. A capacity below 1 falls back to
// DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		caches:   make(map[string]*memoryCache),
	}
}

func (m *Memory) Open(name string) (Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caches[name]; ok {
		return c, nil
	}
	entries, err := lru.New[string, *Entry](m.capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache %s: %w", name, err)
	}
	c := &memoryCache{name: name, capacity: m.capacity, entries: entries}
	m.caches[name] = c
	m.order = append(m.order, name)
	return c, nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) Delete(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[name]
	if !ok {
		return false, nil
	}
	c.entries.Purge()
	delete(m.caches, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *Memory) Match(key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.order {
		if e, ok, _ := m.caches[name].Match(key); ok {
			return e, true, nil
		}
	}
	return nil, false, nil
}

func (m *Memory) Close() error {
	return nil
}

type memoryCache struct {
	name     string
	capacity int
	// writes serializes PutAll against Put so a batch lands as a whole.
	writes  sync.Mutex
	entries *lru.Cache[string, *Entry]
}

func (c *memoryCache) Name() string {
	return c.name
}

func (c *memoryCache) Match(key string) (*Entry, bool, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return e.clone(), true, nil
}

func (c *memoryCache) Put(key string, e *Entry) error {
	c.writes.Lock()
	defer c.writes.Unlock()
	c.entries.Add(key, e.clone())
	return nil
}

func (c *memoryCache) PutAll(entries map[string]*Entry) error {
	if len(entries) > c.capacity {
		return fmt.Errorf("cache %s holds at most %d entries, got %d", c.name, c.capacity, len(entries))
	}
	c.writes.Lock()
	defer c.writes.Unlock()
	for k, e := range entries {
		c.entries.Add(k, e.clone())
	}
	return nil
}
