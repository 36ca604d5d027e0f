package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/server"
	"github.com/MeKo-Tech/idcap/internal/submit"
	"github.com/cucumber/godog"
)

// countdown is long enough for the default readiness delays.
const countdown = 3 * time.Second

func (testCtx *TestContext) theServerIsRunningWithFrameSet(name string) error {
	return testCtx.startServer(name, "en")
}

func (testCtx *TestContext) theServerIsRunningWithFrameSetInLanguage(name, lang string) error {
	return testCtx.startServer(name, lang)
}

func (testCtx *TestContext) startServer(name, lang string) error {
	dir, ok := testCtx.FramesDirs[name]
	if !ok {
		return fmt.Errorf("frame set %q was not created", name)
	}
	api, err := NewAPIServer(dir, lang)
	if err != nil {
		return err
	}
	testCtx.API = api
	return nil
}

func (testCtx *TestContext) request(method, path string, body interface{}, header ...string) error {
	if testCtx.API == nil {
		return errors.New("server is not running")
	}
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, testCtx.API.HTTP.URL+path, r)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := testCtx.API.HTTP.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPHeaders = resp.Header
	testCtx.LastHTTPResponse, err = io.ReadAll(resp.Body)
	return err
}

func (testCtx *TestContext) iCreateASessionFor(docType string) error {
	if err := testCtx.request(http.MethodPost, "/sessions", server.CreateSessionRequest{DocType: docType}); err != nil {
		return err
	}
	if testCtx.LastHTTPStatusCode != http.StatusCreated {
		return fmt.Errorf("expected 201, got %d: %s", testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	var sess server.SessionResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &sess); err != nil {
		return err
	}
	testCtx.SessionID = sess.ID
	return nil
}

func (testCtx *TestContext) iSend(action string) error {
	return testCtx.request(http.MethodPost, "/sessions/"+testCtx.SessionID+"/"+action, nil)
}

func (testCtx *TestContext) iSendWithToken(action, token string) error {
	return testCtx.request(http.MethodPost, "/sessions/"+testCtx.SessionID+"/"+action, nil,
		"Authorization", "Bearer "+token)
}

func (testCtx *TestContext) iSetTheViewportTo(width, height int) error {
	return testCtx.request(http.MethodPost, "/sessions/"+testCtx.SessionID+"/viewport",
		map[string]int{"width": width, "height": height})
}

func (testCtx *TestContext) theDocumentIsHeldSteady() error {
	if testCtx.API == nil {
		return errors.New("server is not running")
	}
	testCtx.API.Clock.Advance(countdown)
	return nil
}

// iCaptureAndAcceptBothSides drives the session from start to ALL_CAPTURED.
func (testCtx *TestContext) iCaptureAndAcceptBothSides() error {
	steps := []func() error{
		func() error { return testCtx.iSend("start") },
		testCtx.theDocumentIsHeldSteady,
		func() error { return testCtx.iSend("capture") },
		func() error { return testCtx.iSend("accept") },
		testCtx.theDocumentIsHeldSteady,
		func() error { return testCtx.iSend("capture") },
		func() error { return testCtx.iSend("accept") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
		if testCtx.LastHTTPStatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
		}
	}
	return nil
}

func (testCtx *TestContext) lastSession() (server.SessionResponse, error) {
	var ar server.ActionResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &ar); err == nil && ar.Session.ID != "" {
		return ar.Session, nil
	}
	var sess server.SessionResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &sess); err != nil {
		return sess, fmt.Errorf("response is not a session: %w", err)
	}
	return sess, nil
}

func (testCtx *TestContext) currentSnapshot() (capture.Snapshot, error) {
	if err := testCtx.request(http.MethodGet, "/sessions/"+testCtx.SessionID, nil); err != nil {
		return capture.Snapshot{}, err
	}
	sess, err := testCtx.lastSession()
	return sess.Snapshot, err
}

func (testCtx *TestContext) theSessionStateShouldBe(want string) error {
	snap, err := testCtx.currentSnapshot()
	if err != nil {
		return err
	}
	if snap.State.String() != want {
		return fmt.Errorf("expected state %s, got %s", want, snap.State)
	}
	return nil
}

func (testCtx *TestContext) theActionShouldBe(outcome string) error {
	var ar server.ActionResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &ar); err != nil {
		return fmt.Errorf("response is not an action result: %w\n%s", err, testCtx.LastHTTPResponse)
	}
	if want := outcome == "applied"; ar.Applied != want {
		return fmt.Errorf("expected applied=%t, got %t", want, ar.Applied)
	}
	return nil
}

func (testCtx *TestContext) theSideShouldBeFlaggedForGlare(side, verdict string) error {
	snap, err := testCtx.currentSnapshot()
	if err != nil {
		return err
	}
	if snap.Report == nil {
		return fmt.Errorf("no glare report for the %s side", side)
	}
	if want := verdict == "should"; snap.Report.Flagged != want {
		return fmt.Errorf("expected the %s side flagged=%t, report %s", side, want, snap.Report)
	}
	return nil
}

func (testCtx *TestContext) theMessageShouldBe(want string) error {
	sess, err := testCtx.lastSession()
	if err != nil {
		return err
	}
	if sess.Message != want {
		return fmt.Errorf("expected message %q, got %q", want, sess.Message)
	}
	return nil
}

func (testCtx *TestContext) captureShouldBeEnabled(verdict string) error {
	snap, err := testCtx.currentSnapshot()
	if err != nil {
		return err
	}
	if want := verdict == "enabled"; snap.CaptureEnabled != want {
		return fmt.Errorf("expected capture enabled=%t", want)
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldBe(want string) error {
	var er server.ErrorResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &er); err != nil {
		return fmt.Errorf("response is not an error: %w", err)
	}
	if er.Error != want {
		return fmt.Errorf("expected error %q, got %q (%s)", want, er.Error, er.Message)
	}
	return nil
}

func (testCtx *TestContext) theUploadShouldContain(table *godog.Table) error {
	got := strings.Join(testCtx.API.Submitter.Names, ",")
	var want []string
	for _, row := range table.Rows[1:] {
		want = append(want, row.Cells[0].Value)
	}
	if got != strings.Join(want, ",") {
		return fmt.Errorf("expected uploads %v, got %v", want, testCtx.API.Submitter.Names)
	}
	return nil
}

func (testCtx *TestContext) theUploadShouldUseToken(token string) error {
	for _, t := range testCtx.API.Submitter.Tokens {
		if t != token {
			return fmt.Errorf("upload used token %q", t)
		}
	}
	if len(testCtx.API.Submitter.Tokens) == 0 {
		return errors.New("nothing was uploaded")
	}
	return nil
}

func (testCtx *TestContext) theUploadEndpointRejectsSubmissions() error {
	testCtx.API.Submitter.Fail = &submit.HTTPError{Status: http.StatusInternalServerError, Body: "unavailable"}
	return nil
}

func (testCtx *TestContext) iDownloadTheDocument() error {
	return testCtx.request(http.MethodGet, "/sessions/"+testCtx.SessionID+"/document.pdf", nil)
}

func (testCtx *TestContext) theResponseBodyShouldStartWith(prefix string) error {
	if !bytes.HasPrefix(testCtx.LastHTTPResponse, []byte(prefix)) {
		return fmt.Errorf("response does not start with %q", prefix)
	}
	return nil
}

// RegisterAPISteps registers the HTTP API step definitions.
func (testCtx *TestContext) RegisterAPISteps(sc *godog.ScenarioContext) {
	sc.Step(`^the server is running with frame set "([^"]*)"$`, testCtx.theServerIsRunningWithFrameSet)
	sc.Step(`^the server is running with frame set "([^"]*)" in language "([^"]*)"$`,
		testCtx.theServerIsRunningWithFrameSetInLanguage)
	sc.Step(`^I create a session for "([^"]*)"$`, testCtx.iCreateASessionFor)
	sc.Step(`^I send "([^"]*)"$`, testCtx.iSend)
	sc.Step(`^I send "([^"]*)" with token "([^"]*)"$`, testCtx.iSendWithToken)
	sc.Step(`^I set the viewport to (\d+)x(\d+)$`, testCtx.iSetTheViewportTo)
	sc.Step(`^the document is held steady$`, testCtx.theDocumentIsHeldSteady)
	sc.Step(`^I capture and accept both sides$`, testCtx.iCaptureAndAcceptBothSides)
	sc.Step(`^I download the document$`, testCtx.iDownloadTheDocument)
	sc.Step(`^the upload endpoint rejects submissions$`, testCtx.theUploadEndpointRejectsSubmissions)

	sc.Step(`^the session state should be "([^"]*)"$`, testCtx.theSessionStateShouldBe)
	sc.Step(`^the action should be (applied|ignored)$`, testCtx.theActionShouldBe)
	sc.Step(`^the (front|back) side (should|should not) be flagged for glare$`, testCtx.theSideShouldBeFlaggedForGlare)
	sc.Step(`^the message should be "([^"]*)"$`, testCtx.theMessageShouldBe)
	sc.Step(`^capture should be (enabled|disabled)$`, testCtx.captureShouldBeEnabled)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the error should be "([^"]*)"$`, testCtx.theErrorShouldBe)
	sc.Step(`^the upload should contain:$`, testCtx.theUploadShouldContain)
	sc.Step(`^the upload should use token "([^"]*)"$`, testCtx.theUploadShouldUseToken)
	sc.Step(`^the response body should start with "([^"]*)"$`, testCtx.theResponseBodyShouldStartWith)
}
