package settings

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "compilation.json", s.Config)
	assert.Equal(t, "compiled", s.Target)
	assert.Equal(t, zerolog.InfoLevel, s.Level())
	assert.True(t, s.Progress)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SITEBUILD_TARGET", "public")
	t.Setenv("SITEBUILD_LOG_LEVEL", "debug")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "public", s.Target)
	assert.Equal(t, zerolog.DebugLevel, s.Level())
}

func TestValidate(t *testing.T) {
	s := Settings{Config: "compilation.json", Target: "compiled", LogLevel: "verbose"}
	assert.Error(t, s.Validate())

	s.LogLevel = "warn"
	assert.NoError(t, s.Validate())

	s.Target = ""
	assert.Error(t, s.Validate())
}
