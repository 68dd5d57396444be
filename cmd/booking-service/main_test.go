package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessonbook/internal/app"
)

func TestSetupLogger(t *testing.T) {
	prevFormatter := log.StandardLogger().Formatter
	prevLevel := log.GetLevel()
	t.Cleanup(func() {
		log.SetFormatter(prevFormatter)
		log.SetLevel(prevLevel)
	})

	cfg := app.DefaultConfig()
	cfg.LogFormat = app.LogFormatJSON
	cfg.LogLevel = "debug"
	require.NoError(t, setupLogger(cfg))
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	cfg.LogFormat = app.LogFormatText
	cfg.LogLevel = "warn"
	require.NoError(t, setupLogger(cfg))
	assert.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)
	assert.Equal(t, log.WarnLevel, log.GetLevel())
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	prevLevel := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prevLevel) })

	cfg := app.DefaultConfig()
	cfg.LogLevel = "loud"
	err := setupLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
