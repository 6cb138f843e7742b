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
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/multierr"
)

const shutdownTimeout = 5 * time.Second

// Run runs the app until ctx is cancelled or the server fails.
func (app *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.listenAddr, err)
	}
	app.logger.Infof("Listening on %s", ln.Addr())

	app.collector.Start(ctx)

	if app.gateway != nil {
		app.startGateway(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ticker := app.clock.Ticker(app.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.logger.Info("Received a signal, exiting...")
			return app.shutdown()
		case err, ok := <-serveErr:
			if !ok {
				serveErr = nil
				continue
			}
			app.logger.Errorf("Server failed: %v", err)
			return multierr.Append(fmt.Errorf("server failed: %w", err), app.shutdown())
		case <-ticker.C:
			app.sendReport(ctx)
		}
	}
}

func (app *App) startGateway(ctx context.Context) {
	if err := app.gateway.Install(ctx); err != nil {
		app.logger.Warnf("Caching gateway not installed, requests go straight to the origin: %v", err)
		return
	}
	// A failed cleanup of old generations leaves the gateway active.
	if err := app.gateway.Activate(ctx); err != nil {
		app.logger.Warnf("Error while removing stale caches: %v", err)
	}
	static, versioned := app.gateway.CacheNames()
	app.logger.Infof("Caching gateway active with caches %s and %s", static, versioned)
}

func (app *App) sendReport(ctx context.Context) {
	if app.sink == nil {
		return
	}
	app.sink.Deliver(ctx, app.generator.Generate())
}

// shutdown flushes a last report and releases every resource. It runs on
// its own context since the one passed to Run is already done.
func (app *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	app.sendReport(ctx)

	var err error
	if serr := app.server.Shutdown(ctx); serr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to shutdown the server: %w", serr))
	}
	if app.sink != nil {
		if serr := app.sink.Close(ctx); serr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to flush pending reports: %w", serr))
		}
	}

	app.collector.Stop()
	app.store.Reset()

	if app.cache != nil {
		if cerr := app.cache.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close the cache store: %w", cerr))
		}
	}
	return err
}
