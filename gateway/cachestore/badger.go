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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	entryPrefix      = "c/"
	generationPrefix = "g/"
)

// Badger persists generations in a Badger database.
//
// Keys: c/<generation>/<request key> holds the JSON entry,
// g/<generation> marks the generation with its creation sequence.
type Badger struct {
	db  *badger.DB
	mu  sync.Mutex
	seq uint64
}

// OpenBadger opens or creates the database in dir.
func OpenBadger(dir string, logger *zap.SugaredLogger) (*Badger, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be empty")
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.Named("badger")})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	b := &Badger{db: db}
	gens, err := b.generations()
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, g := range gens {
		if g.seq > b.seq {
			b.seq = g.seq
		}
	}
	return b, nil
}

type generation struct {
	name string
	seq  uint64
}

func (b *Badger) generations() ([]generation, error) {
	var gens []generation
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(generationPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), generationPrefix)
			err := item.Value(func(v []byte) error {
				if len(v) != 8 {
					return fmt.Errorf("corrupt marker for cache %s", name)
				}
				gens = append(gens, generation{name: name, seq: binary.BigEndian.Uint64(v)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].seq < gens[j].seq })
	return gens, nil
}

func (b *Badger) Open(name string) (Cache, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid cache name %q", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	marker := []byte(generationPrefix + name)
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(marker)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], b.seq+1)
		if err := txn.Set(marker, v[:]); err != nil {
			return err
		}
		b.seq++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	return &badgerCache{db: b.db, name: name}, nil
}

func (b *Badger) Keys() ([]string, error) {
	gens, err := b.generations()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(gens))
	for i, g := range gens {
		names[i] = g.name
	}
	return names, nil
}

func (b *Badger) Delete(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	marker := []byte(generationPrefix + name)
	existed := true
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(marker); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				existed = false
				return nil
			}
			return err
		}
		return txn.Delete(marker)
	})
	if err != nil || !existed {
		return false, err
	}
	if err := b.db.DropPrefix([]byte(entryPrefix + name + "/")); err != nil {
		return true, fmt.Errorf("failed to drop entries of cache %s: %w", name, err)
	}
	return true, nil
}

func (b *Badger) Match(key string) (*Entry, bool, error) {
	gens, err := b.generations()
	if err != nil {
		return nil, false, err
	}
	for _, g := range gens {
		e, ok, err := (&badgerCache{db: b.db, name: g.name}).Match(key)
		if err != nil || ok {
			return e, ok, err
		}
	}
	return nil, false, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

type badgerCache struct {
	db   *badger.DB
	name string
}

func (c *badgerCache) Name() string {
	return c.name
}

func (c *badgerCache) key(k string) []byte {
	return []byte(entryPrefix + c.name + "/" + k)
}

func (c *badgerCache) Match(key string) (*Entry, bool, error) {
	var e *Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			e = &Entry{}
			return json.Unmarshal(v, e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache %s: %w", c.name, err)
	}
	return e, true, nil
}

func (c *badgerCache) Put(key string, e *Entry) error {
	return c.PutAll(map[string]*Entry{key: e})
}

func (c *badgerCache) PutAll(entries map[string]*Entry) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		for k, e := range entries {
			v, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := txn.Set(c.key(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write cache %s: %w", c.name, err)
	}
	return nil
}

type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
