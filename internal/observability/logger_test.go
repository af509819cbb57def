// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/greasewire/greasewire/internal/config"
)

// testSyncer is an in-memory WriteSyncer capturing console output.
type testSyncer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *testSyncer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *testSyncer) Sync() error { return nil }

func (s *testSyncer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestInitializeJSONFormat(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &testSyncer{}
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "gw-test",
	}, zapcore.AddSync(sink))

	logger := GetLogger()
	require.NotNil(t, logger)

	logger.Info("hello", zap.String("k", "v"))
	require.NoError(t, logger.Sync())

	out := sink.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"k":"v"`)
	assert.Contains(t, out, "gw-test")
}

func TestInitializeRespectsLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &testSyncer{}
	Initialize(config.LoggerConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "gw-test",
	}, zapcore.AddSync(sink))

	logger := GetLogger()
	logger.Info("quiet")
	logger.Warn("loud")
	_ = logger.Sync()

	out := sink.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestInitializeInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &testSyncer{}
	Initialize(config.LoggerConfig{
		Level:       "extremely-loud",
		Format:      "json",
		ServiceName: "gw-test",
	}, zapcore.AddSync(sink))

	logger := GetLogger()
	logger.Debug("dropped")
	logger.Info("kept")
	_ = logger.Sync()

	out := sink.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestInitializeRunsOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &testSyncer{}
	second := &testSyncer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "a"}, zapcore.AddSync(first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "b"}, zapcore.AddSync(second))

	GetLogger().Info("routed")
	_ = GetLogger().Sync()

	assert.Contains(t, first.String(), "routed")
	assert.Empty(t, second.String(), "second Initialize must be a no-op")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// The fallback logger is named so misconfigured startups are visible.
	assert.True(t, strings.Contains(logger.Name(), "fallback") || logger.Name() == "",
		"expected fallback-named or unnamed logger, got %q", logger.Name())
}
