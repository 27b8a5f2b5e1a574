package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.Contains(t, output, "compoundmcp")
	assert.Contains(t, output, "Usage:")
	assert.Contains(t, output, "--postgres-host")
	assert.Contains(t, output, "--embedding-model")
}

func TestRootCmdShowsVersion(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "compoundmcp version")
}

func TestVersionSubcommandJSON(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version", "--json"})

	require.NoError(t, cmd.Execute())

	var info map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Contains(t, info, "version")
}

func TestBuildEngineConfigDefaults(t *testing.T) {
	cmd := NewRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	eng, err := buildEngineConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", eng.PostgresHost)
	assert.Equal(t, 5433, eng.PostgresPort)
	assert.Equal(t, "mxbai-embed-large", eng.EmbeddingModel)
	assert.Equal(t, 1024, eng.EmbeddingDimensions)
}

func TestBuildEngineConfigFlagBeatsEnv(t *testing.T) {
	t.Setenv("COMPOUNDMCP_POSTGRES_PORT", "5999")
	t.Setenv("COMPOUNDMCP_POSTGRES_HOST", "db.internal")

	cmd := NewRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--postgres-port", "6001"}))

	eng, err := buildEngineConfig(cmd)
	require.NoError(t, err)
	// Explicit flag wins over the environment; env wins over the default.
	assert.Equal(t, 6001, eng.PostgresPort)
	assert.Equal(t, "db.internal", eng.PostgresHost)
	assert.Equal(t, "compounding", eng.PostgresDatabase)
}

func TestBuildEngineConfigRejectsBadPort(t *testing.T) {
	cmd := NewRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--postgres-port", "70000"}))

	_, err := buildEngineConfig(cmd)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "port"))
}

func TestDefaultLockDir(t *testing.T) {
	dir := defaultLockDir()
	assert.NotEmpty(t, dir)
	assert.Contains(t, dir, "compoundmcp")
}
