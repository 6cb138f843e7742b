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

// Package gateway serves same-origin static assets cache first, with an
// offline fallback for documents.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/elastic/apm-web-telemetry/gateway/cachestore"
	"github.com/elastic/apm-web-telemetry/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultVersion  = "v1"
	defaultAppName  = "text-to-voice"
	defaultFallback = "/index-optimized.html"
)

// DefaultPrecache is the precache manifest used when none is configured.
var DefaultPrecache = []string{"/", "/index.html", "/index-optimized.html"}

// ErrInstallFailed is returned when a precache resource cannot be fetched.
var ErrInstallFailed = errors.New("gateway install failed")

// State is the lifecycle state of the gateway.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivated  State = "activated"
	// StateRedundant means the install failed and the gateway will never
	// intercept requests.
	StateRedundant State = "redundant"
)

// Destination classifies what a request is for.
type Destination string

const (
	Document Destination = "document"
	Style    Destination = "style"
	Script   Destination = "script"
)

// Gateway is an http.RoundTripper that intercepts same-origin GET
// requests for documents, styles and scripts once activated.
type Gateway struct {
	mu    sync.RWMutex
	state State

	originURL     string
	origin        *url.URL
	version       string
	appName       string
	staticName    string
	versionedName string
	precache      []string
	fallback      string

	store      cachestore.Store
	network    http.RoundTripper
	registerer prometheus.Registerer
	metrics    *metrics
	marks      MarkRecorder
	notifier   Notifier
	clock      clock.Clock
	logger     *zap.SugaredLogger
}

// New returns a Gateway in the StateNew state.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		state:    StateNew,
		version:  defaultVersion,
		appName:  defaultAppName,
		precache: DefaultPrecache,
		fallback: defaultFallback,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.originURL == "" {
		return nil, errors.New("origin URL cannot be empty")
	}
	if g.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}

	origin, err := url.Parse(g.originURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse origin URL: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin URL %q is not absolute", g.originURL)
	}
	g.origin = &url.URL{Scheme: origin.Scheme, Host: origin.Host}

	if g.staticName == "" {
		g.staticName = "static-" + g.version
	}
	if g.versionedName == "" {
		g.versionedName = g.appName + "-" + g.version
	}
	if g.store == nil {
		g.store = cachestore.NewMemory(cachestore.DefaultCapacity)
	}
	if g.network == nil {
		g.network = http.DefaultTransport.(*http.Transport).Clone()
	}
	if g.metrics, err = newMetrics(g.registerer); err != nil {
		return nil, err
	}
	return g, nil
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// CacheNames returns the static and versioned cache names.
func (g *Gateway) CacheNames() (string, string) {
	return g.staticName, g.versionedName
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
	g.logger.Debugf("Gateway state set to %s", s)
}

// Install fetches every precache resource concurrently and stores them in
// the static cache. Nothing is stored unless every fetch succeeds.
func (g *Gateway) Install(ctx context.Context) error {
	g.logger.Info("Gateway installing...")
	g.setState(StateInstalling)

	cache, err := g.store.Open(g.staticName)
	if err != nil {
		g.setState(StateRedundant)
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	entries := make([]*cachestore.Entry, len(g.precache))
	keys := make([]string, len(g.precache))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, p := range g.precache {
		eg.Go(func() error {
			key, entry, err := g.precacheEntry(egCtx, p)
			if err != nil {
				return err
			}
			keys[i], entries[i] = key, entry
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.setState(StateRedundant)
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	batch := make(map[string]*cachestore.Entry, len(entries))
	for i := range entries {
		batch[keys[i]] = entries[i]
	}
	g.logger.Info("Caching essential resources")
	if err := cache.PutAll(batch); err != nil {
		g.setState(StateRedundant)
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	// Activation may follow immediately, open sessions are not waited for.
	g.setState(StateInstalled)
	return nil
}

func (g *Gateway) precacheEntry(ctx context.Context, p string) (string, *cachestore.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.resolve(p), nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent)
	resp, err := g.network.RoundTrip(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch %s: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, fmt.Errorf("failed to fetch %s: response status: %s", p, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return cachestore.Key(req), cachestore.NewEntry(resp, body, g.clock.Now()), nil
}

// Activate deletes every cache generation other than the static and
// versioned ones, then claims requests. Deletion failures are returned
// combined, the gateway is activated regardless.
func (g *Gateway) Activate(ctx context.Context) error {
	if s := g.State(); s != StateInstalled && s != StateActivated {
		return fmt.Errorf("cannot activate gateway in state %s", s)
	}
	g.logger.Info("Gateway activating...")

	names, err := g.store.Keys()
	if err != nil {
		return fmt.Errorf("failed to list caches: %w", err)
	}
	var errs error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if name == g.staticName || name == g.versionedName {
			continue
		}
		g.logger.Infof("Deleting old cache: %s", name)
		if _, err := g.store.Delete(name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to delete cache %s: %w", name, err))
		}
	}

	g.setState(StateActivated)
	return errs
}

// RoundTrip implements http.RoundTripper.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	if g.State() != StateActivated || req.Method != http.MethodGet || !g.sameOrigin(req.URL) {
		return g.passthrough(req)
	}
	dest := destination(req)
	if dest != Document && dest != Style && dest != Script {
		return g.passthrough(req)
	}

	key := cachestore.Key(req)
	entry, ok, err := g.store.Match(key)
	if err != nil {
		g.logger.Warnf("Cache lookup for %s failed: %v", key, err)
	}
	if ok {
		g.metrics.hits.Inc()
		closeBody(req)
		return entry.Response(req), nil
	}
	g.metrics.misses.Inc()

	resp, err := g.network.RoundTrip(req)
	if err != nil {
		if dest == Document {
			if fb, ok := g.offlineFallback(req); ok {
				closeBody(req)
				return fb, nil
			}
		}
		return nil, err
	}

	if resp.StatusCode != http.StatusOK || !g.basic(resp) {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", req.URL, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	cache, err := g.store.Open(g.versionedName)
	if err == nil {
		err = cache.Put(key, cachestore.NewEntry(resp, body, g.clock.Now()))
	}
	if err != nil {
		g.logger.Warnf("Failed to cache %s: %v", key, err)
	}
	return resp, nil
}

func (g *Gateway) passthrough(req *http.Request) (*http.Response, error) {
	g.metrics.passthrough.Inc()
	return g.network.RoundTrip(req)
}

func (g *Gateway) offlineFallback(req *http.Request) (*http.Response, bool) {
	fbReq, err := http.NewRequestWithContext(req.Context(), http.MethodGet, g.resolve(g.fallback), nil)
	if err != nil {
		return nil, false
	}
	entry, ok, err := g.store.Match(cachestore.Key(fbReq))
	if err != nil {
		g.logger.Warnf("Offline fallback lookup failed: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	g.metrics.fallbacks.Inc()
	g.logger.Debugf("Serving offline fallback for %s", req.URL)
	return entry.Response(req), true
}

// closeBody releases the request body of a request answered without the
// network.
func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

func (g *Gateway) resolve(p string) string {
	ref, err := url.Parse(p)
	if err != nil {
		return g.origin.String() + p
	}
	return g.origin.ResolveReference(ref).String()
}

func (g *Gateway) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, g.origin.Scheme) && strings.EqualFold(u.Host, g.origin.Host)
}

// basic reports whether resp is a plain same-origin response.
func (g *Gateway) basic(resp *http.Response) bool {
	return resp.Request == nil || resp.Request.URL == nil || g.sameOrigin(resp.Request.URL)
}

func destination(req *http.Request) Destination {
	if d := req.Header.Get("Sec-Fetch-Dest"); d != "" {
		return Destination(strings.ToLower(d))
	}
	p := req.URL.Path
	if p == "" || p == "/" {
		return Document
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm":
		return Document
	case ".css":
		return Style
	case ".js", ".mjs":
		return Script
	}
	return ""
}
