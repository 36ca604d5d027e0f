package cmd

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag of c and its children to its default, since
// cobra keeps flag state between executions of the same command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns its output.
func executeCommand(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfgFile = ""

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(stdin)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return strings.TrimSpace(buf.String()), err
}

// setConfig overrides a configuration key for the duration of the test.
func setConfig(t *testing.T, key string, value interface{}) {
	t.Helper()
	prev := viper.Get(key)
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, prev) })
}

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "idcap", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommandHelp(t *testing.T) {
	output, err := executeCommand(t, nil, "--help")
	require.NoError(t, err)
	assert.Contains(t, output, "identity document")
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	output, err := executeCommand(t, nil, "--version")
	require.NoError(t, err)
	assert.Contains(t, output, "idcap version dev")
	assert.Contains(t, output, "Commit:")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"analyze", "config", "devices", "login", "serve", "session", "token"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	output, err := executeCommand(t, nil, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, output, "unknown flag")
}

func TestRootCommandNoArgs(t *testing.T) {
	output, err := executeCommand(t, nil)
	require.NoError(t, err)
	assert.Contains(t, output, "Usage:")
}

func TestGetConfigAppliesBoundFlags(t *testing.T) {
	_, err := executeCommand(t, nil, "config", "show", "--log-level", "debug", "--language", "es")
	require.NoError(t, err)

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "es", cfg.Language)

	// Flags bound to viper keep their value until reset.
	_, err = executeCommand(t, nil, "config", "show")
	require.NoError(t, err)
	cfg, err = GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestGetConfigRejectsInvalidValues(t *testing.T) {
	setConfig(t, "glare.preset", "blinding")
	_, err := GetConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid glare preset")
}
