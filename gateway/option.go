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

package gateway

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/elastic/apm-web-telemetry/gateway/cachestore"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Option func(*Gateway)

// WithOrigin sets the origin the gateway intercepts and proxies to.
func WithOrigin(origin string) Option {
	return func(g *Gateway) {
		g.originURL = origin
	}
}

// WithVersion sets the version tag embedded in the cache names.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// WithAppName sets the prefix of the versioned cache name.
func WithAppName(name string) Option {
	return func(g *Gateway) {
		g.appName = name
	}
}

// WithCacheNames overrides the derived static and versioned cache names.
func WithCacheNames(static, versioned string) Option {
	return func(g *Gateway) {
		g.staticName = static
		g.versionedName = versioned
	}
}

// WithPrecache sets the root relative paths cached at install time.
func WithPrecache(paths ...string) Option {
	return func(g *Gateway) {
		g.precache = paths
	}
}

// WithOfflineFallback sets the document served when a document request
// fails on the network.
func WithOfflineFallback(path string) Option {
	return func(g *Gateway) {
		g.fallback = path
	}
}

// WithStore sets the cache store. Defaults to an in-memory store.
func WithStore(s cachestore.Store) Option {
	return func(g *Gateway) {
		g.store = s
	}
}

// WithNetwork sets the transport used to reach the origin.
func WithNetwork(rt http.RoundTripper) Option {
	return func(g *Gateway) {
		g.network = rt
	}
}

// WithRegisterer registers the gateway counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gateway) {
		g.registerer = reg
	}
}

// WithMarkRecorder receives the performance marks posted to the gateway.
func WithMarkRecorder(r MarkRecorder) Option {
	return func(g *Gateway) {
		g.marks = r
	}
}

// WithNotifier receives the notifications built from push messages.
func WithNotifier(n Notifier) Option {
	return func(g *Gateway) {
		g.notifier = n
	}
}

func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}

// WithLogger configures a custom zap logger to be used by
// the gateway.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}
