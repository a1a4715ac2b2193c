package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNewWithFileOutput(t *testing.T) {
	log, err := New(Config{
		Level:  "debug",
		Format: "console",
		File:   filepath.Join(t.TempDir(), "relay.log"),
	})
	require.NoError(t, err)
	log.Info("started", "port", 8080)
}

func TestKeyValuePairsBecomeFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core))

	log.With("component", "relay").Info("Client registered", "userID", "u1")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Client registered", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "relay", fields["component"])
	assert.Equal(t, "u1", fields["userID"])
}
