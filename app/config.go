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

package app

import (
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type appConfig struct {
	awsConfig     func() (*aws.Config, error)
	logLevel      string
	logger        *zap.SugaredLogger
	listenAddr    string
	originNetwork http.RoundTripper
	clock         clock.Clock
}

// ConfigOption is used to configure the telemetry service.
type ConfigOption func(*appConfig)

// WithLogLevel sets the log level.
func WithLogLevel(level string) ConfigOption {
	return func(c *appConfig) {
		c.logLevel = level
	}
}

// WithLogger replaces the logger built from the log level.
func WithLogger(logger *zap.SugaredLogger) ConfigOption {
	return func(c *appConfig) {
		c.logger = logger
	}
}

// WithAWSConfig sets the loader of the AWS config. It is only called when
// a secret or certificate has to be fetched from AWS.
func WithAWSConfig(load func() (*aws.Config, error)) ConfigOption {
	return func(c *appConfig) {
		c.awsConfig = load
	}
}

// WithListenAddress overrides PERF_LISTEN_ADDR.
func WithListenAddress(addr string) ConfigOption {
	return func(c *appConfig) {
		c.listenAddr = addr
	}
}

// WithOriginNetwork sets the transport the gateway uses to reach the
// origin.
func WithOriginNetwork(rt http.RoundTripper) ConfigOption {
	return func(c *appConfig) {
		c.originNetwork = rt
	}
}

// WithClock sets the clock driving the report ticker and the collector.
func WithClock(cl clock.Clock) ConfigOption {
	return func(c *appConfig) {
		c.clock = cl
	}
}
