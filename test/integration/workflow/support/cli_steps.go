package support

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/MeKo-Tech/idcap/internal/testutil"
	"github.com/cucumber/godog"
)

var placeholder = regexp.MustCompile(`\{(frames|tmp):([^}]*)\}`)

// frameKind returns the synthetic frame for a name used in feature files.
func frameKind(name string) (testutil.DocumentConfig, error) {
	cfg := testutil.DefaultDocumentConfig()
	switch name {
	case "clean":
	case "glare":
		cfg.Glare = 0.5
	case "portrait":
		cfg.Size = testutil.ImageSize{Width: testutil.MediumSize.Height, Height: testutil.MediumSize.Width}
	case "passport":
		cfg.Aspect = 125.0 / 88.0
	default:
		return cfg, fmt.Errorf("unknown frame kind %q", name)
	}
	return cfg, nil
}

// aFrameSetWithFrames writes the listed frames, in order, into a fresh
// directory registered under name.
func (testCtx *TestContext) aFrameSetWithFrames(name, kinds string) error {
	var cfgs []testutil.DocumentConfig
	for _, k := range strings.Split(kinds, ",") {
		cfg, err := frameKind(strings.TrimSpace(k))
		if err != nil {
			return err
		}
		cfgs = append(cfgs, cfg)
	}

	dir := filepath.Join(testCtx.TempDir, "frames", name)
	if err := testutil.EnsureDir(dir); err != nil {
		return err
	}
	if _, err := testutil.WriteFrames(dir, cfgs...); err != nil {
		return fmt.Errorf("failed to write frame set %s: %w", name, err)
	}
	testCtx.FramesDirs[name] = dir
	return nil
}

// substitute expands {frames:NAME} and {tmp:NAME} placeholders.
func (testCtx *TestContext) substitute(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		if parts[1] == "frames" {
			if dir, ok := testCtx.FramesDirs[parts[2]]; ok {
				return dir
			}
			return m
		}
		return testCtx.TempPath(parts[2])
	})
}

func (testCtx *TestContext) run(command, stdin string) error {
	command = testCtx.substitute(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(testCtx.substitute(stdin))
	}

	start := time.Now()
	output, err := cmd.CombinedOutput()
	testCtx.LastOutput = string(output)
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(start)

	testCtx.LastExitCode = 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		testCtx.LastExitCode = exitErr.ExitCode()
	} else if err != nil {
		testCtx.LastExitCode = -1
	}
	return nil
}

// iRunCommand executes a command line.
func (testCtx *TestContext) iRunCommand(command string) error {
	return testCtx.run(command, "")
}

// iRunCommandWithInput executes a command line feeding the doc string to stdin.
func (testCtx *TestContext) iRunCommandWithInput(command string, input *godog.DocString) error {
	return testCtx.run(command, input.Content+"\n")
}

func (testCtx *TestContext) theReadinessCountdownIsShortened() error {
	testCtx.AddEnvVar("IDCAP_READINESS_PRE_DELAY_MS", "0")
	testCtx.AddEnvVar("IDCAP_READINESS_DELAY_MS", "20")
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command %q failed with exit code %d\nOutput: %s",
			testCtx.LastCommand, testCtx.LastExitCode, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command %q succeeded unexpectedly\nOutput: %s", testCtx.LastCommand, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastOutput, expected) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(unexpected string) error {
	if strings.Contains(testCtx.LastOutput, unexpected) {
		return fmt.Errorf("output contains '%s'\nActual output: %s", unexpected, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldBeValidJSON verifies the output, from the first line opening
// an array on, is valid JSON. Log lines on stderr precede it in the combined
// output.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	out := strings.TrimSpace(testCtx.LastOutput)
	start := strings.Index(out, "[")
	if !strings.HasPrefix(out, "[") {
		start = strings.Index(out, "\n[")
	}
	if start == -1 {
		return fmt.Errorf("no JSON array found in output: %s", testCtx.LastOutput)
	}
	var js json.RawMessage
	if err := json.Unmarshal([]byte(out[start:]), &js); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nJSON part: %s", err, out[start:])
	}
	return nil
}

// theAnalysisShouldFlag checks the glare verdicts of analyze's JSON output.
func (testCtx *TestContext) theAnalysisShouldFlag(flagged, total int) error {
	if err := testCtx.theOutputShouldBeValidJSON(); err != nil {
		return err
	}
	out := strings.TrimSpace(testCtx.LastOutput)
	if i := strings.Index(out, "\n["); i != -1 && !strings.HasPrefix(out, "[") {
		out = out[i:]
	}
	var results []struct {
		Report *struct {
			Flagged bool `json:"flagged"`
		} `json:"report"`
	}
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		return err
	}
	if len(results) != total {
		return fmt.Errorf("expected %d results, got %d", total, len(results))
	}
	got := 0
	for _, r := range results {
		if r.Report != nil && r.Report.Flagged {
			got++
		}
	}
	if got != flagged {
		return fmt.Errorf("expected %d flagged frames, got %d\nOutput: %s", flagged, got, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	path := testCtx.substitute(name)
	if !testutil.FileExists(path) {
		return fmt.Errorf("file %s does not exist", path)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldStartWith(name, prefix string) error {
	path := testCtx.substitute(name)
	data, err := os.ReadFile(path) //nolint:gosec // G304: scenario-controlled path
	if err != nil {
		return err
	}
	if !strings.HasPrefix(string(data), prefix) {
		return fmt.Errorf("file %s does not start with %q", path, prefix)
	}
	return nil
}

// RegisterCLISteps registers the command-line step definitions.
func (testCtx *TestContext) RegisterCLISteps(sc *godog.ScenarioContext) {
	sc.Step(`^a frame set "([^"]*)" with frames "([^"]*)"$`, testCtx.aFrameSetWithFrames)
	sc.Step(`^the readiness countdown is shortened$`, testCtx.theReadinessCountdownIsShortened)
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^I run "([^"]*)" with input:$`, testCtx.iRunCommandWithInput)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the analysis should flag (\d+) of (\d+) frames$`, testCtx.theAnalysisShouldFlag)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should start with "([^"]*)"$`, testCtx.theFileShouldStartWith)
}
