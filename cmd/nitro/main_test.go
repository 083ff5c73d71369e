package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/nitro/internal/config"
	"github.com/normanking/nitro/internal/platform"
)

func TestBuildRouter_FixedMode(t *testing.T) {
	c := config.Default()
	c.Deployment.Mode = "managed"

	rt, report, models, err := buildRouter(c)
	require.NoError(t, err)
	assert.Equal(t, platform.ModeManaged, report.Mode)
	assert.Equal(t, "config", report.Marker)
	assert.Equal(t, platform.ModeManaged, rt.Mode())

	require.Len(t, models, 2)
	assert.Equal(t, "ollama", models[0].Name())
	assert.Equal(t, "gemini", models[1].Name())
}

func TestBuildRouter_AutoFollowsEnvironment(t *testing.T) {
	c := config.Default()
	c.Deployment.Mode = "auto"
	c.Local.Endpoint = "http://localhost:11434"
	t.Setenv("RENDER", "")

	rt, _, _, err := buildRouter(c)
	require.NoError(t, err)
	assert.Equal(t, platform.ModeLocal, rt.Mode())

	t.Setenv("RENDER", "true")
	assert.Equal(t, platform.ModeManaged, rt.Mode())
}

func TestBuildRouter_BadMode(t *testing.T) {
	c := config.Default()
	c.Deployment.Mode = "sideways"
	_, _, _, err := buildRouter(c)
	assert.Error(t, err)
}

func TestSearchOptions(t *testing.T) {
	c := config.Default()
	c.Search.FetchPages = true
	c.Search.MaxResults = 7

	opts := searchOptions(c)
	assert.True(t, opts.FetchPages)
	assert.Equal(t, 7, opts.MaxResults)
	assert.Equal(t, c.Search.Endpoint, opts.Endpoint)
}

func TestDetectCmd_Args(t *testing.T) {
	cmd := detectCmd()
	cmd.SetArgs([]string{"--list"})
	assert.NoError(t, cmd.Execute())

	cmd = detectCmd()
	cmd.SetArgs([]string{})
	cmd.SilenceErrors, cmd.SilenceUsage = true, true
	assert.Error(t, cmd.Execute())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héllo w...", truncate("héllo world", 10))
}
