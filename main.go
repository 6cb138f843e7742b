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

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/elastic/apm-web-telemetry/app"
	"github.com/joho/godotenv"
)

const defaultListenAddr = ":8300"

func main() {
	// Global context
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := mainWithError(ctx); err != nil {
		log.Fatal(err)
	}
}

func mainWithError(ctx context.Context) error {
	// Values already present in the environment win over the .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	listenAddr := os.Getenv("PERF_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	// The AWS config is only needed for secrets and certificates stored in
	// AWS, so it is loaded on first use.
	awsConfig := sync.OnceValues(func() (*aws.Config, error) {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return &cfg, nil
	})

	application, err := app.New(ctx,
		app.WithLogLevel(os.Getenv("PERF_LOG_LEVEL")),
		app.WithListenAddress(listenAddr),
		app.WithAWSConfig(awsConfig),
	)
	if err != nil {
		return fmt.Errorf("failed to create the app: %w", err)
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("error while running: %w", err)
	}

	return nil
}
