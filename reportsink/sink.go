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
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/elastic/apm-web-telemetry/report"
	"github.com/elastic/apm-web-telemetry/version"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.elastic.co/fastjson"
	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the path reports are posted to.
	DefaultEndpoint = "/analytics/performance"

	// DefaultBeaconQuota is the largest payload sent as a beacon.
	DefaultBeaconQuota = 64 << 10

	// SessionHeader carries the session identifier of the reporting page.
	SessionHeader = "X-Session-Id"

	defaultTimeout = 5 * time.Second
	maxErrorBody   = 4 << 10
)

// Sink delivers reports to a remote analytics endpoint. Delivery is fire
// and forget: no retries, no queue, failures are logged and dropped.
type Sink struct {
	mu         sync.RWMutex
	wg         sync.WaitGroup
	bufferPool sync.Pool
	client     *http.Client
	status     Status
	closed     bool

	baseURL     string
	endpoint    string
	targetURL   string
	apiKey      string
	secretToken string
	sessionID   string
	preferred   Strategy
	beaconQuota int
	timeout     time.Duration
	verifyCerts bool
	rootCerts   []string
	clock       clock.Clock
	logger      *zap.SugaredLogger
}

// New returns a Sink or an error if the configuration is invalid.
func New(opts ...Option) (*Sink, error) {
	s := Sink{
		bufferPool: sync.Pool{New: func() interface{} {
			return &bytes.Buffer{}
		}},
		status:      Started,
		endpoint:    DefaultEndpoint,
		preferred:   Beacon,
		beaconQuota: DefaultBeaconQuota,
		timeout:     defaultTimeout,
		verifyCerts: true,
		clock:       clock.New(),
	}

	for _, opt := range opts {
		opt(&s)
	}

	if s.baseURL == "" {
		return nil, errors.New("report URL cannot be empty")
	}

	if s.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}

	target, err := resolve(s.baseURL, s.endpoint)
	if err != nil {
		return nil, err
	}
	s.targetURL = target

	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}

	if s.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if err := s.configureTLS(transport); err != nil {
			return nil, err
		}
		s.client = &http.Client{Transport: transport}
	}

	return &s, nil
}

func resolve(base, endpoint string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid report URL: %w", err)
	}
	if !b.IsAbs() {
		return "", fmt.Errorf("report URL %q is not absolute", base)
	}
	e, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid report endpoint: %w", err)
	}
	return b.ResolveReference(e).String(), nil
}

func (s *Sink) configureTLS(transport *http.Transport) error {
	if s.verifyCerts && len(s.rootCerts) == 0 {
		return nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if !s.verifyCerts {
		s.logger.Info("Ignoring report endpoint certificates")
		cfg.InsecureSkipVerify = true //nolint:gosec
	}
	if len(s.rootCerts) > 0 {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		for _, pem := range s.rootCerts {
			if !pool.AppendCertsFromPEM([]byte(pem)) {
				return errors.New("failed to parse CA certificates")
			}
		}
		cfg.RootCAs = pool
	}
	transport.TLSClientConfig = cfg
	return nil
}

// URL returns the resolved endpoint reports are sent to.
func (s *Sink) URL() string {
	return s.targetURL
}

// SessionID returns the session identifier attached to every report.
func (s *Sink) SessionID() string {
	return s.sessionID
}

// Status returns the outcome of the last completed delivery.
func (s *Sink) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Deliver sends r in the background. It never blocks on the network and
// never reports an error to the caller.
func (s *Sink) Deliver(ctx context.Context, r report.Report) {
	payload, err := s.encode(&r)
	if err != nil {
		s.logger.Errorf("Failed to send performance data: %v", err)
		return
	}
	strategy := s.strategyFor(len(payload))

	var sendCtx context.Context
	var cancel context.CancelFunc
	if strategy == Beacon {
		sendCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	} else {
		sendCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		s.logger.Debug("Sink closed, dropping performance report")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorf("Failed to send performance data: %v", rec)
			}
		}()
		if err := s.send(sendCtx, strategy, payload); err != nil {
			s.logger.Warnf("Failed to send performance data: %v", err)
		}
	}()
}

// Close stops accepting reports and waits for in-flight sends, or for ctx
// to be done.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight reports: %w", ctx.Err())
	}
}

func (s *Sink) strategyFor(size int) Strategy {
	if s.preferred == Beacon && size <= s.beaconQuota {
		return Beacon
	}
	return KeepAlive
}

func (s *Sink) encode(r *report.Report) ([]byte, error) {
	var w fastjson.Writer
	if err := r.MarshalFastJSON(&w); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	sentAt := s.clock.Now().UTC().Format(report.TimestampFormat)
	payload, err := sjson.SetBytes(w.Bytes(), "sentAt", sentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp report: %w", err)
	}
	return payload, nil
}

func (s *Sink) send(ctx context.Context, strategy Strategy, payload []byte) error {
	var req *http.Request
	var err error
	switch strategy {
	case Beacon:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.targetURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create beacon request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	default:
		buf := s.bufferPool.Get().(*bytes.Buffer)
		defer func() {
			buf.Reset()
			s.bufferPool.Put(buf)
		}()
		gw, err := gzip.NewWriterLevel(buf, gzip.BestSpeed)
		if err != nil {
			return err
		}
		if _, err := gw.Write(payload); err != nil {
			return fmt.Errorf("failed to compress data: %w", err)
		}
		if err := gw.Close(); err != nil {
			return fmt.Errorf("failed to write compressed data to buffer: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.targetURL, buf)
		if err != nil {
			return fmt.Errorf("failed to create keep-alive request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
	}

	req.Header.Set("User-Agent", version.UserAgent)
	req.Header.Set(SessionHeader, s.sessionID)
	if s.apiKey != "" {
		req.Header.Add("Authorization", "ApiKey "+s.apiKey)
	} else if s.secretToken != "" {
		req.Header.Add("Authorization", "Bearer "+s.secretToken)
	}

	s.logger.Debugf("Sending performance report (%s, %d bytes)", strategy, len(payload))
	resp, err := s.client.Do(req)
	if err != nil {
		s.setStatus(Failing)
		return fmt.Errorf("failed to post performance report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.setStatus(Healthy)
		return nil
	}
	s.setStatus(Failing)
	logBodyErrors(s.logger, resp)
	return nil
}

func (s *Sink) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == status {
		return
	}
	s.status = status
	s.logger.Debugf("Report sink status set to %s", status)
}

func logBodyErrors(logger *zap.SugaredLogger, resp *http.Response) {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		logger.Warnf("failed to post performance report: response status: %s: failed to read response body: %v", resp.Status, err)
		return
	}
	messages := gjson.GetBytes(b, "errors.#.message")
	if !gjson.ValidBytes(b) || len(messages.Array()) == 0 {
		logger.Warnf("failed to post performance report: response status: %s: response body: %s", resp.Status, string(b))
		return
	}
	logger.Warnf("failed to post performance report: response status: %s", resp.Status)
	for _, m := range messages.Array() {
		logger.Warnf("message: %s", m.String())
	}
}
