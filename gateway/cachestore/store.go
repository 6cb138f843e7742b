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

// Package cachestore holds named generations of stored responses.
package cachestore

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrNotFound is returned when a generation does not exist.
var ErrNotFound = errors.New("cache generation not found")

// Entry is a stored response snapshot.
type Entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Cache is one named generation.
type Cache interface {
	Name() string
	Match(key string) (*Entry, bool, error)
	Put(key string, e *Entry) error
	// PutAll stores every entry or none of them.
	PutAll(entries map[string]*Entry) error
}

// Store manages the generations.
type Store interface {
	// Open returns the named generation, creating it when absent.
	Open(name string) (Cache, error)
	// Keys lists the generation names in creation order.
	Keys() ([]string, error)
	// Delete drops a generation and reports whether it existed.
	Delete(name string) (bool, error)
	// Match looks key up in every generation, oldest first.
	Match(key string) (*Entry, bool, error)
	Close() error
}

// Key returns the cache key of a request.
func Key(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + req.URL.String()
}

// NewEntry snapshots resp with its already read body.
func NewEntry(resp *http.Response, body []byte, storedAt time.Time) *Entry {
	e := &Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     append([]byte(nil), body...),
		StoredAt: storedAt,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		e.URL = resp.Request.URL.String()
	}
	return e
}

// Response materializes the snapshot as a response to req.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}
