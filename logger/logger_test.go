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

package logger_test

import (
	"os"
	"strings"
	"testing"

	"github.com/elastic/apm-web-telemetry/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func tempLog(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "tempFileLoggerTest-")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimSpace(string(b))
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestDefaultLogger(t *testing.T) {
	path := tempLog(t)
	l, err := logger.New(logger.WithOutputPaths(path))
	require.NoError(t, err)

	l.Infof("%s", "logger-test-info")
	l.Debugf("%s", "logger-test-debug")
	require.NoError(t, l.Sync())

	out := lines(t, path)
	require.Len(t, out, 1)
	entry := gjson.Parse(out[0])
	assert.Equal(t, "info", entry.Get(`log\.level`).String())
	assert.Equal(t, "logger-test-info", entry.Get("message").String())
	assert.Equal(t, "1.6.0", entry.Get(`ecs\.version`).String())
	assert.Equal(t, logger.DefaultServiceName, entry.Get(`service\.name`).String())
	assert.True(t, entry.Get(`@timestamp`).Exists())
	assert.Equal(t, "github.com/elastic/apm-web-telemetry/logger_test.TestDefaultLogger",
		entry.Get(`log\.origin.function`).String())
	assert.Equal(t, "logger/logger_test.go", entry.Get(`log\.origin.file\.name`).String())
}

func TestLoggerParseLogLevel(t *testing.T) {
	testCases := []struct {
		level         string
		expectedLevel zapcore.Level
		expectedErr   bool
	}{
		{level: "TRacE", expectedLevel: zapcore.DebugLevel},
		{level: "dEbuG", expectedLevel: zapcore.DebugLevel},
		{level: "InFo", expectedLevel: zapcore.InfoLevel},
		{level: "WaRn", expectedLevel: zapcore.WarnLevel},
		{level: "WaRning", expectedLevel: zapcore.WarnLevel},
		{level: "eRRor", expectedLevel: zapcore.ErrorLevel},
		{level: "CriTicaL", expectedLevel: zapcore.FatalLevel},
		{level: "OFF", expectedLevel: zapcore.FatalLevel + 1},
		{level: "Inva@Lid3", expectedErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			l, err := logger.ParseLogLevel(tc.level)
			if tc.expectedErr {
				require.Error(t, err)
			} else {
				require.Equal(t, tc.expectedLevel, l)
			}
		})
	}
}

func TestLoggerSetLogLevel(t *testing.T) {
	path := tempLog(t)
	l, err := logger.New(
		logger.WithOutputPaths(path),
		logger.WithLevel(zap.DebugLevel),
		logger.WithServiceName("tts-frontend"),
	)
	require.NoError(t, err)

	l.Debugf("%s", "logger-test-trace")
	require.NoError(t, l.Sync())

	out := lines(t, path)
	require.Len(t, out, 1)
	assert.Equal(t, "debug", gjson.Get(out[0], `log\.level`).String())
	assert.Equal(t, "tts-frontend", gjson.Get(out[0], `service\.name`).String())
}

func TestLoggerSetOffLevel(t *testing.T) {
	path := tempLog(t)
	l, err := logger.New(
		logger.WithOutputPaths(path),
		logger.WithLevel(zap.FatalLevel+1),
	)
	require.NoError(t, err)

	l.Errorf("%s", "logger-test-trace")
	assert.Empty(t, lines(t, path))
}

func TestNewWithLevel(t *testing.T) {
	path := tempLog(t)
	l, err := logger.NewWithLevel("", logger.WithOutputPaths(path))
	require.NoError(t, err)
	l.Debug("hidden")
	l.Warn("shown")
	require.NoError(t, l.Sync())

	out := lines(t, path)
	require.Len(t, out, 1)
	assert.Equal(t, "shown", gjson.Get(out[0], "message").String())

	_, err = logger.NewWithLevel("loud")
	require.Error(t, err)
}
