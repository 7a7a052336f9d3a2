package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlagSet(t *testing.T) {
	var opts options
	flagSet := newFlagSet(&opts)

	require.NoError(t, flagSet.Parse([]string{"--config", "mudra.yaml", "--headless", "--activate", "--camera", "1"}))

	assert.Equal(t, "mudra.yaml", opts.configFile)
	assert.True(t, opts.headless)
	assert.True(t, opts.activate)
	camera, err := flagSet.GetInt("camera")
	require.NoError(t, err)
	assert.Equal(t, 1, camera)
}

func TestRun_Help(t *testing.T) {
	assert.NoError(t, run([]string{"--help"}))
	assert.NoError(t, run([]string{"-h"}))
}

func TestViewerURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", viewerURL(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000", viewerURL("127.0.0.1:9000"))
}
