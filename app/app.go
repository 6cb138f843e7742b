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
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/elastic/apm-web-telemetry/collector"
	"github.com/elastic/apm-web-telemetry/gateway"
	"github.com/elastic/apm-web-telemetry/gateway/cachestore"
	"github.com/elastic/apm-web-telemetry/logger"
	"github.com/elastic/apm-web-telemetry/metricstore"
	"github.com/elastic/apm-web-telemetry/report"
	"github.com/elastic/apm-web-telemetry/reportsink"
	"github.com/elastic/apm-web-telemetry/signalapi"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.elastic.co/fastjson"
	"go.uber.org/zap"
)

const (
	defaultListenAddr     = ":8300"
	defaultReportInterval = 30 * time.Second
)

// App is the main application.
type App struct {
	listenAddr     string
	reportInterval time.Duration
	clock          clock.Clock
	logger         *zap.SugaredLogger

	store     *metricstore.Store
	signals   *signalapi.Handler
	collector *collector.Collector
	generator *report.Generator
	sink      *reportsink.Sink
	gateway   *gateway.Gateway
	cache     cachestore.Store
	registry  *prometheus.Registry
	router    *mux.Router
	server    *http.Server
}

// New returns an App or an error if the creation failed.
func New(ctx context.Context, opts ...ConfigOption) (*App, error) {
	c := appConfig{}

	for _, opt := range opts {
		opt(&c)
	}

	app := &App{
		listenAddr:     c.listenAddr,
		reportInterval: defaultReportInterval,
		clock:          c.clock,
		logger:         c.logger,
		registry:       prometheus.NewRegistry(),
	}
	if app.listenAddr == "" {
		app.listenAddr = defaultListenAddr
	}
	if app.clock == nil {
		app.clock = clock.New()
	}

	var err error

	if app.logger == nil {
		if app.logger, err = logger.NewWithLevel(c.logLevel); err != nil {
			return nil, err
		}
	}

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if interval, ok, err := parseDuration("PERF_REPORT_INTERVAL"); err != nil || ok {
		if err != nil {
			return nil, err
		}
		app.reportInterval = interval
	}

	var storeOpts []metricstore.Option
	if limit, ok, err := parseInt("PERF_RETENTION_LIMIT"); err != nil || ok {
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, metricstore.WithRetentionLimit(limit))
	}
	app.store = metricstore.New(append(storeOpts, metricstore.WithClock(app.clock))...)

	if app.signals, err = signalapi.New(signalapi.WithLogger(app.logger)); err != nil {
		return nil, err
	}

	if err := app.newCollector(); err != nil {
		return nil, err
	}

	app.generator, err = report.NewGenerator(app.store,
		report.WithLogger(app.logger),
		report.WithClock(app.clock),
		report.WithEnvironmentFunc(func() report.Environment {
			page := app.signals.Page()
			return report.Environment{UserAgent: page.UserAgent, URL: page.URL}
		}),
	)
	if err != nil {
		return nil, err
	}

	if reportURL := os.Getenv("PERF_REPORT_URL"); reportURL != "" {
		if err := app.newSink(ctx, c, reportURL); err != nil {
			return nil, err
		}
	} else {
		app.logger.Info("PERF_REPORT_URL is not set, reports are only served on /report")
	}

	if originURL := os.Getenv("PERF_ORIGIN_URL"); originURL != "" {
		if err := app.newGateway(c, originURL); err != nil {
			return nil, err
		}
	} else {
		app.logger.Info("PERF_ORIGIN_URL is not set, the caching gateway is disabled")
	}

	app.router = app.routes()
	app.server = &http.Server{
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return app, nil
}

// Handler returns the HTTP handler serving every endpoint of the app.
func (app *App) Handler() http.Handler {
	return app.router
}

func (app *App) newCollector() error {
	opts := []collector.Option{
		collector.WithLogger(app.logger),
		collector.WithSignalSource(app.signals),
		collector.WithClock(app.clock),
	}

	switch source := strings.ToLower(os.Getenv("PERF_HEAP_SOURCE")); source {
	case "", "runtime":
		opts = append(opts, collector.WithHeapSampler(collector.RuntimeHeap{}))
	case "process":
		opts = append(opts, collector.WithHeapSampler(collector.NewProcessMemory()))
	default:
		return fmt.Errorf("unknown PERF_HEAP_SOURCE %q", source)
	}

	if interval, ok, err := parseDuration("PERF_HEAP_SAMPLE_INTERVAL"); err != nil || ok {
		if err != nil {
			return err
		}
		opts = append(opts, collector.WithHeapSampleInterval(interval))
	}

	var err error
	app.collector, err = collector.New(app.store, opts...)
	return err
}

func (app *App) newSink(ctx context.Context, c appConfig, reportURL string) error {
	apiKey, secretToken := loadCredentials(ctx, c.awsConfig, app.logger)

	sinkOpts := []reportsink.Option{
		reportsink.WithURL(reportURL),
		reportsink.WithLogger(app.logger),
		reportsink.WithClock(app.clock),
		reportsink.WithAPIKey(apiKey),
		reportsink.WithSecretToken(secretToken),
	}

	if timeout, ok, err := parseDuration("PERF_REPORT_TIMEOUT"); err != nil || ok {
		if err != nil {
			return err
		}
		sinkOpts = append(sinkOpts, reportsink.WithTimeout(timeout))
	}

	if disable, ok, err := parseBool("PERF_REPORT_DISABLE_BEACON"); err != nil || ok {
		if err != nil {
			return err
		}
		if disable {
			sinkOpts = append(sinkOpts, reportsink.WithoutBeacon())
		}
	}

	if verifyCerts, ok, err := parseBool("PERF_REPORT_VERIFY_CERT"); err != nil || ok {
		if err != nil {
			return err
		}
		if !verifyCerts {
			app.logger.Infof("Ignoring Certificates.")
		}
		sinkOpts = append(sinkOpts, reportsink.WithVerifyCerts(verifyCerts))
	}

	if encodedCertPem := os.Getenv("PERF_REPORT_CA_CERT_PEM"); encodedCertPem != "" {
		certPem := strings.ReplaceAll(encodedCertPem, "\\n", "\n")
		app.logger.Infof("Using CA certificates from environment variable.")
		sinkOpts = append(sinkOpts, reportsink.WithRootCerts(certPem))
	}

	if certFile := os.Getenv("PERF_REPORT_CA_CERT_FILE"); certFile != "" {
		cert, err := os.ReadFile(certFile)
		if err != nil {
			return err
		}
		app.logger.Infof("Using CA certificate loaded from file %s", certFile)
		sinkOpts = append(sinkOpts, reportsink.WithRootCerts(string(cert)))
	}

	if acmCertArn := os.Getenv("PERF_REPORT_CA_CERT_ACM_ID"); acmCertArn != "" {
		cert, err := loadAcmCertificate(ctx, acmCertArn, c.awsConfig)
		if err != nil {
			return err
		}
		app.logger.Infof("Using CA certificate %s", acmCertArn)
		sinkOpts = append(sinkOpts, reportsink.WithRootCerts(cert))
	}

	var err error
	app.sink, err = reportsink.New(sinkOpts...)
	return err
}

func (app *App) newGateway(c appConfig, originURL string) error {
	gwOpts := []gateway.Option{
		gateway.WithOrigin(originURL),
		gateway.WithLogger(app.logger),
		gateway.WithClock(app.clock),
		gateway.WithRegisterer(app.registry),
		gateway.WithMarkRecorder(app.collector),
	}
	if version := os.Getenv("PERF_CACHE_VERSION"); version != "" {
		gwOpts = append(gwOpts, gateway.WithVersion(version))
	}
	if precache := os.Getenv("PERF_PRECACHE"); precache != "" {
		var paths []string
		for _, p := range strings.Split(precache, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		gwOpts = append(gwOpts, gateway.WithPrecache(paths...))
	}
	if c.originNetwork != nil {
		gwOpts = append(gwOpts, gateway.WithNetwork(c.originNetwork))
	}

	if dir := os.Getenv("PERF_CACHE_DIR"); dir != "" {
		store, err := cachestore.OpenBadger(dir, app.logger)
		if err != nil {
			return err
		}
		app.logger.Infof("Using persistent cache store in %s", dir)
		app.cache = store
	} else {
		app.cache = cachestore.NewMemory(cachestore.DefaultCapacity)
	}
	gwOpts = append(gwOpts, gateway.WithStore(app.cache))

	gw, err := gateway.New(gwOpts...)
	if err != nil {
		if closeErr := app.cache.Close(); closeErr != nil {
			app.logger.Warnf("Failed to close cache store: %v", closeErr)
		}
		return err
	}
	app.gateway = gw
	return nil
}

func (app *App) routes() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/signals", app.signals).Methods(http.MethodPost)
	r.HandleFunc("/report", app.handleReport).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", app.handleHealth).Methods(http.MethodGet)

	if app.gateway != nil {
		app.gateway.RegisterHooks(r.PathPrefix("/gateway").Subrouter())
		r.PathPrefix("/").Handler(app.gateway.Handler())
	}
	return r
}

// URL: http://server/report
func (app *App) handleReport(w http.ResponseWriter, r *http.Request) {
	rep := app.generator.Generate()

	var out fastjson.Writer
	if err := rep.MarshalFastJSON(&out); err != nil {
		app.logger.Errorf("Failed to encode report: %v", err)
		http.Error(w, "failed to encode report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(out.Bytes()); err != nil {
		app.logger.Errorf("Failed to send report response: %v", err)
	}
}

// URL: http://server/health
func (app *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	var out fastjson.Writer
	out.RawString(`{"status":"ok"`)
	if app.sink != nil {
		out.RawString(`,"sink":`)
		out.String(string(app.sink.Status()))
	}
	if app.gateway != nil {
		out.RawString(`,"gateway":`)
		out.String(string(app.gateway.State()))
	}
	out.RawByte('}')

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(out.Bytes()); err != nil {
		app.logger.Errorf("Failed to send health response: %v", err)
	}
}

func parseDuration(flag string) (time.Duration, bool, error) {
	strValue, ok := os.LookupEnv(flag)
	if !ok || strValue == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse %s: %w", flag, err)
	}
	if d <= 0 {
		return 0, false, fmt.Errorf("%s must be positive, got %s", flag, strValue)
	}
	return d, true, nil
}

func parseInt(flag string) (int, bool, error) {
	strValue, ok := os.LookupEnv(flag)
	if !ok || strValue == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strValue)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse %s: %w", flag, err)
	}
	return n, true, nil
}

func parseBool(flag string) (bool, bool, error) {
	strValue, ok := os.LookupEnv(flag)
	if !ok || strValue == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strValue)
	if err != nil {
		return false, false, fmt.Errorf("failed to parse %s: %w", flag, err)
	}
	return b, true, nil
}
