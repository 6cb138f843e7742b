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
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// loadCredentials returns the report endpoint API key and secret token,
// preferring values stored in AWS Secrets Manager over plain env values.
func loadCredentials(ctx context.Context, lazyCfg func() (*aws.Config, error), logger *zap.SugaredLogger) (string, string) {
	var manager *secretsmanager.Client
	lazyManager := func() (*secretsmanager.Client, error) {
		if manager != nil {
			return manager, nil
		}
		cfg, err := awsConfig(lazyCfg)
		if err != nil {
			return nil, err
		}
		manager = secretsmanager.NewFromConfig(*cfg)
		return manager, nil
	}

	apiKey := os.Getenv("PERF_API_KEY")
	if secretID, ok := os.LookupEnv("PERF_SECRETS_MANAGER_API_KEY_ID"); ok {
		result, err := loadSecret(ctx, lazyManager, secretID)
		if err != nil {
			logger.Warnf("Could not load the report API key from AWS Secrets Manager. Reporting performance data will likely fail. Is 'PERF_SECRETS_MANAGER_API_KEY_ID=%s' correct? Error message: %v", secretID, err)
			apiKey = ""
		} else {
			logger.Infof("Using the report API key retrieved from AWS Secrets Manager.")
			apiKey = result
		}
	}

	secretToken := os.Getenv("PERF_SECRET_TOKEN")
	if secretID, ok := os.LookupEnv("PERF_SECRETS_MANAGER_SECRET_TOKEN_ID"); ok {
		result, err := loadSecret(ctx, lazyManager, secretID)
		if err != nil {
			logger.Warnf("Could not load the report secret token from AWS Secrets Manager. Reporting performance data will likely fail. Is 'PERF_SECRETS_MANAGER_SECRET_TOKEN_ID=%s' correct? Error message: %v", secretID, err)
			secretToken = ""
		} else {
			logger.Infof("Using the report secret token retrieved from AWS Secrets Manager.")
			secretToken = result
		}
	}

	return apiKey, secretToken
}

func awsConfig(lazyCfg func() (*aws.Config, error)) (*aws.Config, error) {
	if lazyCfg == nil {
		return nil, errors.New("no AWS config available")
	}
	cfg, err := lazyCfg()
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS default config: %w", err)
	}
	return cfg, nil
}

func loadSecret(ctx context.Context, lazyManager func() (*secretsmanager.Client, error), secretID string) (string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"),
	}

	manager, err := lazyManager()
	if err != nil {
		return "", fmt.Errorf("failed to create manager: %w", err)
	}

	result, err := manager.GetSecretValue(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret value: %w", err)
	}

	if result.SecretString != nil {
		return *result.SecretString, nil
	}

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(result.SecretBinary)))
	n, err := base64.StdEncoding.Decode(decoded, result.SecretBinary)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 encoded secret: %w", err)
	}

	return string(decoded[:n]), nil
}

func loadAcmCertificate(ctx context.Context, arn string, lazyCfg func() (*aws.Config, error)) (string, error) {
	cfg, err := awsConfig(lazyCfg)
	if err != nil {
		return "", err
	}
	client := acm.NewFromConfig(*cfg)
	response, err := client.GetCertificate(ctx, &acm.GetCertificateInput{
		CertificateArn: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get certificate %s: %w", arn, err)
	}
	if response.Certificate == nil {
		return "", fmt.Errorf("certificate %s has no body", arn)
	}
	return *response.Certificate, nil
}
