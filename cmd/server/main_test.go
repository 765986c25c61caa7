package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/reelhouse/internal/config"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Logging: config.LoggingConfig{Level: "warn", Format: "json"}}

	logger := newLogger(&buf, cfg)
	logger.Info("dropped")
	logger.Warn("kept", "userID", "u1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "u1", line["userID"])

	buf.Reset()
	cfg.Logging = config.LoggingConfig{Level: "debug", Format: "text"}
	newLogger(&buf, cfg).Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
