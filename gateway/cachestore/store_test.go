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

package cachestore_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elastic/apm-web-telemetry/gateway/cachestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func stores(t *testing.T) map[string]func(t *testing.T) cachestore.Store {
	return map[string]func(t *testing.T) cachestore.Store{
		"memory": func(t *testing.T) cachestore.Store {
			return cachestore.NewMemory(16)
		},
		"badger": func(t *testing.T) cachestore.Store {
			s, err := cachestore.OpenBadger(t.TempDir(), zaptest.NewLogger(t).Sugar())
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, s.Close()) })
			return s
		},
	}
}

func entry(body string) *cachestore.Entry {
	return &cachestore.Entry{
		URL:      "http://app.example/index.html",
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"text/html"}},
		Body:     []byte(body),
		StoredAt: time.Date(2024, time.June, 5, 8, 30, 0, 0, time.UTC),
	}
}

func TestStore(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("generations in creation order", func(t *testing.T) {
				s := newStore(t)
				for _, n := range []string{"static-v1", "app-v1", "stale-old"} {
					_, err := s.Open(n)
					require.NoError(t, err)
				}
				_, err := s.Open("static-v1")
				require.NoError(t, err)

				keys, err := s.Keys()
				require.NoError(t, err)
				assert.Equal(t, []string{"static-v1", "app-v1", "stale-old"}, keys)

				deleted, err := s.Delete("stale-old")
				require.NoError(t, err)
				assert.True(t, deleted)
				deleted, err = s.Delete("stale-old")
				require.NoError(t, err)
				assert.False(t, deleted)

				keys, err = s.Keys()
				require.NoError(t, err)
				assert.Equal(t, []string{"static-v1", "app-v1"}, keys)
			})

			t.Run("match across generations", func(t *testing.T) {
				s := newStore(t)
				static, err := s.Open("static-v1")
				require.NoError(t, err)
				versioned, err := s.Open("app-v1")
				require.NoError(t, err)

				require.NoError(t, versioned.Put("GET /app.js", entry("js")))
				require.NoError(t, static.PutAll(map[string]*cachestore.Entry{
					"GET /":           entry("root"),
					"GET /index.html": entry("index"),
				}))

				e, ok, err := s.Match("GET /app.js")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "js", string(e.Body))
				assert.Equal(t, "text/html", e.Header.Get("Content-Type"))
				assert.True(t, e.StoredAt.Equal(entry("").StoredAt))

				e, ok, err = static.Match("GET /index.html")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "index", string(e.Body))

				_, ok, err = versioned.Match("GET /index.html")
				require.NoError(t, err)
				assert.False(t, ok)

				_, ok, err = s.Match("GET /missing")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("delete drops entries", func(t *testing.T) {
				s := newStore(t)
				c, err := s.Open("stale-old")
				require.NoError(t, err)
				require.NoError(t, c.Put("GET /old.css", entry("old")))

				_, err = s.Delete("stale-old")
				require.NoError(t, err)
				_, ok, err := s.Match("GET /old.css")
				require.NoError(t, err)
				assert.False(t, ok)

				c, err = s.Open("stale-old")
				require.NoError(t, err)
				_, ok, err = c.Match("GET /old.css")
				require.NoError(t, err)
				assert.False(t, ok)
			})
		})
	}
}

func TestMemoryCopiesEntries(t *testing.T) {
	s := cachestore.NewMemory(0)
	c, err := s.Open("static-v1")
	require.NoError(t, err)

	e := entry("index")
	require.NoError(t, c.Put("GET /", e))
	e.Body[0] = 'X'

	got, ok, err := c.Match("GET /")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "index", string(got.Body))
}

func TestMemoryPutAllOverCapacity(t *testing.T) {
	s := cachestore.NewMemory(1)
	c, err := s.Open("static-v1")
	require.NoError(t, err)

	err = c.PutAll(map[string]*cachestore.Entry{"GET /a": entry("a"), "GET /b": entry("b")})
	require.Error(t, err)
	_, ok, _ := c.Match("GET /a")
	assert.False(t, ok)
}

func TestBadgerReopen(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t).Sugar()

	s, err := cachestore.OpenBadger(dir, logger)
	require.NoError(t, err)
	for _, n := range []string{"static-v1", "app-v1"} {
		c, err := s.Open(n)
		require.NoError(t, err)
		require.NoError(t, c.Put("GET /"+n, entry(n)))
	}
	require.NoError(t, s.Close())

	s, err = cachestore.OpenBadger(dir, logger)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Open("static-v2")
	require.NoError(t, err)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"static-v1", "app-v1", "static-v2"}, keys)

	e, ok, err := s.Match("GET /app-v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "app-v1", string(e.Body))
}

func TestBadgerRejectsNames(t *testing.T) {
	s, err := cachestore.OpenBadger(t.TempDir(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Open("a/b")
	require.Error(t, err)
}

func TestEntryResponse(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://app.example/index.html", nil)
	assert.Equal(t, "GET http://app.example/index.html", cachestore.Key(req))

	resp := entry("<html></html>").Response(req)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "200 OK", resp.Status)
	assert.Equal(t, int64(13), resp.ContentLength)
	assert.Equal(t, "13", resp.Header.Get("Content-Length"))
	assert.Same(t, req, resp.Request)
}
