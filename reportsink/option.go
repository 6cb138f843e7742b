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

package reportsink

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type Option func(*Sink)

// WithURL sets the base URL the endpoint is resolved against.
func WithURL(url string) Option {
	return func(s *Sink) {
		s.baseURL = url
	}
}

// WithEndpoint sets the report path. Defaults to /analytics/performance.
func WithEndpoint(path string) Option {
	return func(s *Sink) {
		s.endpoint = path
	}
}

func WithAPIKey(key string) Option {
	return func(s *Sink) {
		s.apiKey = key
	}
}

func WithSecretToken(secret string) Option {
	return func(s *Sink) {
		s.secretToken = secret
	}
}

// WithSessionID sets the value of the session header attached to every
// report. A random one is generated when unset.
func WithSessionID(id string) Option {
	return func(s *Sink) {
		s.sessionID = id
	}
}

// WithTimeout bounds every single send.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Sink) {
		s.timeout = timeout
	}
}

// WithoutBeacon disables the beacon strategy, all reports are sent with
// keep-alive posts.
func WithoutBeacon() Option {
	return func(s *Sink) {
		s.preferred = KeepAlive
	}
}

// WithBeaconQuota sets the largest payload, in bytes, sent as a beacon.
func WithBeaconQuota(n int) Option {
	return func(s *Sink) {
		s.beaconQuota = n
	}
}

// WithVerifyCerts toggles verification of the report endpoint certificate.
func WithVerifyCerts(verify bool) Option {
	return func(s *Sink) {
		s.verifyCerts = verify
	}
}

// WithRootCerts adds PEM encoded CA certificates trusted for the report
// endpoint.
func WithRootCerts(pem string) Option {
	return func(s *Sink) {
		s.rootCerts = append(s.rootCerts, pem)
	}
}

// WithHTTPClient replaces the client used for sending. TLS options are not
// applied to a custom client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sink) {
		s.client = client
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Sink) {
		s.clock = c
	}
}

// WithLogger configures a custom zap logger to be used by
// the sink.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}
