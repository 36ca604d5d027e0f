package support

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/idcap/internal/testutil"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	WorkingDir string
	TempDir    string
	EnvVars    []string
	// FramesDirs maps a frame set name to the directory holding it.
	FramesDirs map[string]string

	// API state
	API       *APIServer
	SessionID string

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    http.Header
}

// NewTestContext creates a new test context rooted at the project directory.
func NewTestContext() (*TestContext, error) {
	root, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "idcap-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &TestContext{
		WorkingDir: root,
		TempDir:    tempDir,
		EnvVars:    []string{},
		FramesDirs: map[string]string{},
	}, nil
}

// Cleanup stops the API server and removes the temporary directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error

	if testCtx.API != nil {
		if err := testCtx.API.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
		}
		testCtx.API = nil
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// TempPath returns a path inside the scenario's temporary directory.
func (testCtx *TestContext) TempPath(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}
