package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/MeKo-Tech/idcap/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastCountdown shortens the readiness delays so scripted sessions run quickly.
func fastCountdown(t *testing.T) {
	t.Helper()
	setConfig(t, "readiness.pre_delay_ms", 0)
	setConfig(t, "readiness.delay_ms", 20)
}

func TestSessionCommandScript(t *testing.T) {
	fastCountdown(t)
	clean := testutil.DefaultDocumentConfig()
	glared := testutil.DefaultDocumentConfig()
	glared.Glare = 0.5
	frames := testutil.FramesDir(t, clean, glared)
	out := t.TempDir()

	script := strings.Join([]string{
		"devices",
		"start",
		"capture",
		"accept",
		"next",
		"capture",
		"status",
		"accept",
		"save " + out,
		"quit",
		"status",
	}, "\n")

	output, err := executeCommand(t, strings.NewReader(script), "session", "--frames-dir", frames, "--pdf")
	require.NoError(t, err)

	assert.Contains(t, output, "Select the document type.")
	assert.Contains(t, output, "frame_01.png")
	assert.Contains(t, output, "INIT -> AWAITING_FRONT (start)")
	assert.Contains(t, output, "AWAITING_FRONT -> FRONT_CAPTURED (capture)")
	assert.Contains(t, output, "AWAITING_BACK -> BACK_CAPTURED (capture)")
	assert.Contains(t, output, "flagged=true")
	assert.Contains(t, output, "state: BACK_CAPTURED")
	assert.Contains(t, output, "BACK_CAPTURED -> ALL_CAPTURED (accept)")
	assert.Equal(t, 1, strings.Count(output, "state:"), "nothing runs after quit")

	for _, name := range []string{"ID_ine_FRONT.png", "ID_ine_REVERSO.png", "ID_INE.pdf"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}
}

func TestSessionCommandSpanish(t *testing.T) {
	fastCountdown(t)
	frames := testutil.FramesDir(t, testutil.DefaultDocumentConfig())

	script := "start\nviewport 400x800\ncapture\nsubmit\nbogus\n"
	output, err := executeCommand(t, strings.NewReader(script), "session", "--frames-dir", frames, "--language", "es")
	require.NoError(t, err)

	assert.Contains(t, output, "Seleccione el tipo de documento.")
	assert.Contains(t, output, "error: ")
	assert.Contains(t, output, `unknown command "bogus"`)
	assert.NotContains(t, output, "FRONT_CAPTURED")
}

func TestSessionCommandSubmitWithoutToken(t *testing.T) {
	fastCountdown(t)
	frames := testutil.FramesDir(t, testutil.DefaultDocumentConfig())

	script := "start\ncapture\naccept\ncapture\naccept\nsubmit\n"
	output, err := executeCommand(t, strings.NewReader(script), "session", "--frames-dir", frames,
		"--submission-url", "http://127.0.0.1:1/upload")
	require.NoError(t, err)
	assert.Contains(t, output, "ALL_CAPTURED")
	assert.Contains(t, output, "no identity token available")
	assert.NotContains(t, output, "-> SENDING")
}

func TestSessionCommandMissingFrames(t *testing.T) {
	_, err := executeCommand(t, strings.NewReader(""), "session", "--frames-dir", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSessionRunnerExecErrors(t *testing.T) {
	r := &sessionRunner{}
	_, err := r.exec(context.Background(), "doctype", nil)
	assert.Error(t, err)
	_, err = r.exec(context.Background(), "device", []string{"a", "b"})
	assert.Error(t, err)
	done, err := r.exec(context.Background(), "exit", nil)
	assert.NoError(t, err)
	assert.True(t, done)
}

func TestParseViewport(t *testing.T) {
	tests := []struct {
		args    []string
		want    orientation.Viewport
		wantErr bool
	}{
		{[]string{"1280x720"}, orientation.Viewport{Width: 1280, Height: 720}, false},
		{[]string{"400", "800"}, orientation.Viewport{Width: 400, Height: 800}, false},
		{[]string{"1280"}, orientation.Viewport{}, true},
		{[]string{"-1x5"}, orientation.Viewport{}, true},
		{[]string{"axb"}, orientation.Viewport{}, true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			got, err := parseViewport(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
