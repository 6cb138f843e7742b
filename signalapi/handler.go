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

package signalapi

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/elastic/apm-web-telemetry/collector"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
	"go.elastic.co/fastjson"
	"go.uber.org/zap"
)

const defaultMaxBodySize = 1 << 20

// PageURLHeader carries the location of the reporting page.
const PageURLHeader = "X-Page-URL"

// Handler is the HTTP ingest endpoint of the instrumented page. It
// receives raw performance entries and interaction events and delivers
// them to the subscribers of their category, which makes it a
// collector.SignalSource.
type Handler struct {
	source      *collector.StaticSource
	categories  []collector.Category
	maxBodySize int64
	logger      *zap.SugaredLogger

	mu   sync.RWMutex
	page Page
}

// Page describes the page that last posted signals.
type Page struct {
	UserAgent string
	URL       string
}

// New returns a Handler accepting every category unless restricted with
// WithCategories.
func New(opts ...Option) (*Handler, error) {
	h := &Handler{
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}
	if h.maxBodySize <= 0 {
		h.maxBodySize = defaultMaxBodySize
	}
	h.source = collector.NewStaticSource(h.categories...)
	return h, nil
}

// Subscribe implements collector.SignalSource.
func (h *Handler) Subscribe(category collector.Category, fn collector.Handler) (collector.Subscription, error) {
	return h.source.Subscribe(category, fn)
}

// URL: http://server/signals
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := h.readBody(r)
	if err != nil {
		h.logger.Warnf("Could not read signal request body: %v", err)
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	batches, dropped, err := parse(body)
	if err != nil {
		h.logger.Warnf("Rejecting signal request: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.observePage(r)

	accepted := 0
	for _, b := range batches {
		if h.source.Emit(b.category, b.entries...) {
			accepted += len(b.entries)
			continue
		}
		h.logger.Debugf("No subscriber for %s, dropping %d entries", b.category, len(b.entries))
		dropped += len(b.entries)
	}

	var out fastjson.Writer
	out.RawString(`{"accepted":`)
	out.Int64(int64(accepted))
	out.RawString(`,"dropped":`)
	out.Int64(int64(dropped))
	out.RawByte('}')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if _, err := w.Write(out.Bytes()); err != nil {
		h.logger.Errorf("Failed to send signal response: %v", err)
	}
}

// Page returns the page that last posted signals.
func (h *Handler) Page() Page {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.page
}

// observePage takes the page URL from the X-Page-URL header, falling back
// to the Referer.
func (h *Handler) observePage(r *http.Request) {
	p := Page{UserAgent: r.UserAgent(), URL: r.Header.Get(PageURLHeader)}
	if p.URL == "" {
		p.URL = r.Referer()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.page = p
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	var rd io.Reader = io.LimitReader(r.Body, h.maxBodySize+1)
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(rd)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		rd = io.LimitReader(zr, h.maxBodySize+1)
	}
	body, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > h.maxBodySize {
		return nil, fmt.Errorf("body exceeds %d bytes", h.maxBodySize)
	}
	return body, nil
}

type batch struct {
	category collector.Category
	entries  []collector.Entry
}

// parse groups consecutive entries of the same category into one batch,
// mirroring how a platform observer delivers entry lists. Items without a
// category are counted as dropped.
func parse(body []byte) ([]batch, int, error) {
	if !gjson.ValidBytes(body) {
		return nil, 0, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	var items []gjson.Result
	switch {
	case doc.IsArray():
		items = doc.Array()
	case doc.IsObject():
		items = []gjson.Result{doc}
	default:
		return nil, 0, errors.New("expected an entry or a list of entries")
	}

	var batches []batch
	dropped := 0
	for _, item := range items {
		if !item.IsObject() {
			dropped++
			continue
		}
		category := collector.Category(item.Get("category").String())
		if category == "" {
			dropped++
			continue
		}
		e := parseEntry(category, item)
		if n := len(batches); n > 0 && batches[n-1].category == category {
			batches[n-1].entries = append(batches[n-1].entries, e)
			continue
		}
		batches = append(batches, batch{category: category, entries: []collector.Entry{e}})
	}
	return batches, dropped, nil
}

func parseEntry(category collector.Category, item gjson.Result) collector.Entry {
	e := collector.Entry{
		Name:            item.Get("name").String(),
		StartTime:       number(item, "startTime"),
		Duration:        number(item, "duration"),
		Value:           number(item, "value"),
		ProcessingStart: number(item, "processingStart"),
		HadRecentInput:  item.Get("hadRecentInput").Bool(),
		Kind:            item.Get("kind").String(),
		ID:              item.Get("id").String(),
	}
	if category == collector.Navigation {
		nav := item
		if nested := item.Get("navigation"); nested.IsObject() {
			nav = nested
		}
		e.Navigation = &collector.NavigationTiming{
			NavigationStart:       number(nav, "navigationStart"),
			DomainLookupStart:     number(nav, "domainLookupStart"),
			DomainLookupEnd:       number(nav, "domainLookupEnd"),
			ConnectStart:          number(nav, "connectStart"),
			ConnectEnd:            number(nav, "connectEnd"),
			SecureConnectionStart: number(nav, "secureConnectionStart"),
			RequestStart:          number(nav, "requestStart"),
			ResponseStart:         number(nav, "responseStart"),
			ResponseEnd:           number(nav, "responseEnd"),
			DomLoading:            number(nav, "domLoading"),
			DomComplete:           number(nav, "domComplete"),
			LoadEventEnd:          number(nav, "loadEventEnd"),
		}
	}
	return e
}

// number returns the numeric field at path, or NaN when it is missing or
// not a JSON number so the collector rejects any metric derived from it.
func number(item gjson.Result, path string) float64 {
	v := item.Get(path)
	if v.Type != gjson.Number {
		return math.NaN()
	}
	return v.Float()
}
