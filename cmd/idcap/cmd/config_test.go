package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idcap.yaml")

	output, err := executeCommand(t, nil, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration written to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "info", doc["log_level"])
	assert.Contains(t, doc, "glare")

	_, err = executeCommand(t, nil, "config", "init", path)
	require.Error(t, err, "existing file is kept")

	_, err = executeCommand(t, nil, "config", "init", path, "--force")
	require.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	output, err := executeCommand(t, nil, "config", "show")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(output), &doc))
	assert.Equal(t, "info", doc["log_level"])
	server, ok := doc["server"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 8080, server["port"])
}

func TestConfigShowWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("document:\n  type: passport\nglare:\n  preset: sensitive\n"), 0o600))
	// The global viper keeps the values read from the file.
	t.Cleanup(func() {
		viper.Set("document.type", "ine")
		viper.Set("glare.preset", "standard")
	})

	output, err := executeCommand(t, nil, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, output, "# "+path)
	assert.Contains(t, output, "type: passport")
	assert.Contains(t, output, "preset: sensitive")
}
